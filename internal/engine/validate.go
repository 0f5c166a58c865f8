package engine

import (
	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/xerrors"
)

// validateAdmission performs the admission checks spec §4.1 requires
// before an order is ever accepted onto the book: structural validity,
// price band, post-only-cross and the admission-time self-match check
// against the immediate best opposite candidate. It has no side effects —
// every check here either passes or produces a single OrderRejected.
func (e *Engine) validateAdmission(o types.Order) *xerrors.Error {
	if o.AccountID == 0 {
		return xerrors.New(xerrors.CodeUnknownAccount, "account_id missing").WithOrder(o.SymbolID, o.OrderID)
	}
	if o.QuantityBp <= 0 {
		return xerrors.New(xerrors.CodeBadQuantity, "quantity must be a positive number of basis points").WithOrder(o.SymbolID, o.OrderID)
	}

	switch o.Kind {
	case types.KindMarket:
		if o.PriceCents != 0 {
			return xerrors.New(xerrors.CodeBadPrice, "MARKET orders must not carry a price").WithOrder(o.SymbolID, o.OrderID)
		}
	case types.KindLimit, types.KindPostOnly, types.KindIOC:
		if o.PriceCents < 1 {
			return xerrors.New(xerrors.CodeBadPrice, "price must be >= 1 cent").WithOrder(o.SymbolID, o.OrderID)
		}
	}

	// Price band: LIMIT/POST_ONLY/IOC only (MARKET is explicitly excluded,
	// spec §9 Open Questions — it relies on liquidity-residual cancellation
	// instead).
	if o.Kind != types.KindMarket && e.cfg.PriceBandBps > 0 && e.cfg.ReferencePriceCents > 0 {
		lowBound := e.cfg.ReferencePriceCents * (10_000 - e.cfg.PriceBandBps) / 10_000
		highBound := e.cfg.ReferencePriceCents * (10_000 + e.cfg.PriceBandBps) / 10_000
		if o.PriceCents < lowBound || o.PriceCents > highBound {
			return xerrors.New(xerrors.CodePriceOutOfBand, "price outside configured band").WithOrder(o.SymbolID, o.OrderID)
		}
	}

	opp := e.book.oppositeOf(o.Side)
	head := opp.best()
	if head == nil {
		return nil
	}
	crosses := crossesAt(o, head.price)
	if !crosses {
		return nil
	}

	if o.Kind == types.KindPostOnly {
		return xerrors.New(xerrors.CodePostOnlyCross, "POST_ONLY order would cross the book").WithOrder(o.SymbolID, o.OrderID)
	}

	if idx, ok := head.head, head.head != nilIdx; ok {
		if e.book.arena[idx].accountID == o.AccountID && e.cfg.SelfMatchPolicy == types.SelfMatchReject {
			return xerrors.New(xerrors.CodeSelfMatch, "order would match taker's own resting order").WithOrder(o.SymbolID, o.OrderID)
		}
	}

	return nil
}

// crossesAt reports whether an order with side/kind/price would be willing
// to trade against a resting order at candidatePrice.
func crossesAt(o types.Order, candidatePrice int64) bool {
	switch o.Kind {
	case types.KindMarket:
		return true
	case types.KindLimit, types.KindIOC, types.KindPostOnly:
		if o.Side == types.SideBuy {
			return o.PriceCents >= candidatePrice
		}
		return o.PriceCents <= candidatePrice
	default:
		return false
	}
}
