package engine

import (
	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/xerrors"
)

// processCancel applies one cancel intent (spec §4.1): cancels are
// ordinary removals from the book, never producing a reject — an unknown
// (account_id, order_id) is treated as a no-op, since the order may
// already have reached a terminal state.
func (e *Engine) processCancel(tickID uint64, c types.CancelIntent) []types.Event {
	slot, ok := e.book.cancel(c.AccountID, c.OrderID)
	if !ok {
		return nil
	}
	events := []types.Event{
		e.emit(tickID, types.Event{Kind: types.EventOrderCancelled, OrderID: slot.orderID, AccountID: slot.accountID, Reason: "Cancelled", RemainingBp: slot.remainingBp, Side: slot.side, PriceCents: slot.priceCents}),
	}
	events = append(events, e.emit(tickID, types.Event{Kind: types.EventBookDelta, Side: slot.side, PriceCents: slot.priceCents, LevelTotalBp: e.levelTotal(slot.side, slot.priceCents)}))
	return events
}

func (e *Engine) levelTotal(side types.Side, price int64) int64 {
	lvl, ok := e.book.sideOf(side).levels[price]
	if !ok {
		return 0
	}
	return lvl.totalBp
}

// processOrder runs one inbound order through admission and matching
// (spec §4.1 steps 1-4).
func (e *Engine) processOrder(tickID uint64, o types.Order) []types.Event {
	if rejErr := e.validateAdmission(o); rejErr != nil {
		return []types.Event{e.emit(tickID, types.Event{Kind: types.EventOrderRejected, OrderID: o.OrderID, AccountID: o.AccountID, Reason: string(rejErr.Code)})}
	}

	events := []types.Event{e.emit(tickID, types.Event{Kind: types.EventOrderAccepted, OrderID: o.OrderID, AccountID: o.AccountID})}

	remaining := o.QuantityBp
	var filledTotal int64
	opp := e.book.oppositeOf(o.Side)

matchLoop:
	for remaining > 0 {
		head := opp.best()
		if head == nil {
			break
		}
		if !crossesAt(o, head.price) {
			break
		}
		headIdx, ok := e.book.headOf(head)
		if !ok {
			break
		}
		makerSlot := e.book.arena[headIdx]

		if makerSlot.accountID == o.AccountID {
			switch e.cfg.SelfMatchPolicy {
			case types.SelfMatchCancelOldest:
				cancelled, _ := e.book.cancel(makerSlot.accountID, makerSlot.orderID)
				events = append(events, e.emit(tickID, types.Event{Kind: types.EventOrderCancelled, OrderID: cancelled.orderID, AccountID: cancelled.accountID, Reason: "SelfMatchCancelOldest", RemainingBp: cancelled.remainingBp, Side: cancelled.side, PriceCents: cancelled.priceCents}))
				events = append(events, e.emit(tickID, types.Event{Kind: types.EventBookDelta, Side: cancelled.side, PriceCents: cancelled.priceCents, LevelTotalBp: e.levelTotal(cancelled.side, cancelled.priceCents)}))
				continue matchLoop
			default: // SelfMatchReject: validateAdmission already rejected the
				// case where the very first candidate is self; reaching here
				// means earlier fills happened against other accounts, so we
				// stop matching as if liquidity ended here.
				break matchLoop
			}
		}

		tradeQty := minI64(remaining, makerSlot.remainingBp)
		trade := types.Trade{
			TradeID:    e.nextTradeID(),
			SymbolID:   e.cfg.SymbolID,
			Tick:       tickID,
			MakerOrder: makerSlot.orderID,
			TakerOrder: o.OrderID,
			MakerAcct:  makerSlot.accountID,
			TakerAcct:  o.AccountID,
			PriceCents: head.price,
			QuantityBp: tradeQty,
			MakerSide:  makerSlot.side,
		}
		events = append(events, e.emit(tickID, types.Event{Kind: types.EventTradeExecuted, Trade: trade}))

		afterSlot, exhausted := e.book.fillHead(makerSlot.side, head, tradeQty)
		remaining -= tradeQty
		filledTotal += tradeQty

		events = append(events, e.emit(tickID, types.Event{Kind: types.EventBookDelta, Side: makerSlot.side, PriceCents: head.price, LevelTotalBp: head.totalBp}))

		if exhausted {
			events = append(events, e.emit(tickID, types.Event{Kind: types.EventOrderFilled, OrderID: afterSlot.orderID, AccountID: afterSlot.accountID, FilledBp: afterSlot.originalBp, Side: afterSlot.side, PriceCents: afterSlot.priceCents}))
		} else {
			events = append(events, e.emit(tickID, types.Event{Kind: types.EventOrderPartiallyFilled, OrderID: afterSlot.orderID, AccountID: afterSlot.accountID, RemainingBp: afterSlot.remainingBp, FilledBp: afterSlot.originalBp - afterSlot.remainingBp, Side: afterSlot.side, PriceCents: afterSlot.priceCents}))
		}
	}

	switch o.Kind {
	case types.KindMarket:
		if remaining > 0 {
			events = append(events, e.emit(tickID, types.Event{Kind: types.EventOrderCancelled, OrderID: o.OrderID, AccountID: o.AccountID, Reason: string(xerrors.CodeInsufficientLiquidity), RemainingBp: remaining, FilledBp: filledTotal}))
		} else {
			events = append(events, e.emit(tickID, types.Event{Kind: types.EventOrderFilled, OrderID: o.OrderID, AccountID: o.AccountID, FilledBp: filledTotal}))
		}
	case types.KindIOC:
		if remaining > 0 {
			events = append(events, e.emit(tickID, types.Event{Kind: types.EventOrderCancelled, OrderID: o.OrderID, AccountID: o.AccountID, Reason: string(xerrors.CodeIOCRemaining), RemainingBp: remaining, FilledBp: filledTotal}))
		} else {
			events = append(events, e.emit(tickID, types.Event{Kind: types.EventOrderFilled, OrderID: o.OrderID, AccountID: o.AccountID, FilledBp: filledTotal}))
		}
	case types.KindLimit, types.KindPostOnly:
		if remaining > 0 {
			e.book.rest(types.RestingOrder{
				OrderID:     o.OrderID,
				AccountID:   o.AccountID,
				Side:        o.Side,
				Kind:        o.Kind,
				PriceCents:  o.PriceCents,
				RemainingBp: remaining,
				OriginalBp:  o.QuantityBp,
				ClientTag:   o.ClientTag,
			})
			events = append(events, e.emit(tickID, types.Event{Kind: types.EventBookDelta, Side: o.Side, PriceCents: o.PriceCents, LevelTotalBp: e.levelTotal(o.Side, o.PriceCents)}))
		} else {
			events = append(events, e.emit(tickID, types.Event{Kind: types.EventOrderFilled, OrderID: o.OrderID, AccountID: o.AccountID, FilledBp: filledTotal}))
		}
	}

	return events
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
