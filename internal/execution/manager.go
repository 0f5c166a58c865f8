// Package execution implements the execution manager of spec §4.5:
// normalizes engine events into the canonical event stream, applies
// settlement, persists to the WAL before any observable side effect, and
// broadcasts market data. It borrows engine output and writes WAL records
// but retains no engine state of its own (spec §3's ownership rule).
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/account"
	"github.com/waiver-exchange/core/internal/marketdata"
	"github.com/waiver-exchange/core/internal/metrics"
	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/wal"
)

// Halter escalates a symbol to Halted when settlement finds the engine
// state authoritative over a broken account-side invariant (spec §4.5:
// "a bug-surface condition that triggers halt of the affected symbol").
type Halter interface {
	Halt(symbolID int64, tickID uint64) (types.Event, error)
}

// Manager is the execution manager. It has no lock of its own: Ingest is
// only ever called from the clock's tick barrier, strictly in (tick,
// symbol, sequence) order (ascending symbol_id within a tick, spec §4.5),
// so there is nothing to serialize here beyond what the caller already
// guarantees.
type Manager struct {
	accounts    account.Client
	wal         *wal.Writer
	broadcaster marketdata.Broadcaster
	halter      Halter
	metrics     *metrics.Registry
	logger      *zap.Logger
}

func NewManager(accounts account.Client, w *wal.Writer, broadcaster marketdata.Broadcaster, halter Halter, logger *zap.Logger) *Manager {
	return &Manager{accounts: accounts, wal: w, broadcaster: broadcaster, halter: halter, logger: logger}
}

// SetMetrics attaches a metrics registry for order/trade counters and WAL
// append latency. Optional — a Manager with no registry attached simply
// skips reporting.
func (m *Manager) SetMetrics(r *metrics.Registry) { m.metrics = r }

// Ingest consumes one symbol's tick event batch: appends each event to
// the WAL, settles TradeExecuted events and releases terminal
// reservations, then broadcasts the batch. WAL append happens before any
// of that is acknowledged further, per spec §4.5's durability ordering.
func (m *Manager) Ingest(tick uint64, symbolID int64, events []types.Event) {
	ctx := context.Background()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			m.logger.Error("marshal event for wal", zap.Error(err))
			continue
		}

		appendStart := time.Now()
		_, err = m.wal.Append(tick, wal.KindEvent, payload)
		if m.metrics != nil {
			m.metrics.WALAppendLatency.Observe(time.Since(appendStart).Seconds())
		}
		if err != nil {
			m.logger.Error("wal append failed, halting symbol", zap.Int64("symbol_id", symbolID), zap.Error(err))
			m.escalate(symbolID, tick)
			return
		}

		switch ev.Kind {
		case types.EventOrderAccepted:
			if m.metrics != nil {
				m.metrics.OrdersAdmitted.Inc()
			}
		case types.EventOrderRejected:
			if m.metrics != nil {
				m.metrics.OrdersRejected.WithLabelValues(ev.Reason).Inc()
			}
		case types.EventTradeExecuted:
			if m.metrics != nil {
				m.metrics.TradesExecuted.Inc()
			}
			m.settleTrade(ctx, tick, symbolID, ev.Trade)
		case types.EventOrderFilled, types.EventOrderCancelled:
			m.releaseResidual(ctx, symbolID, ev)
		}
	}

	if m.broadcaster != nil && len(events) > 0 {
		if err := m.broadcaster.Publish(ctx, tick, symbolID, events); err != nil {
			m.logger.Warn("market data publish failed", zap.Int64("symbol_id", symbolID), zap.Error(err))
		}
	}
}

// settleTrade debits the buyer's reservation and credits the seller per
// spec §4.5: cash and position arithmetic is entirely integer. A trade's
// maker side tells us which party is the resting seller vs buyer.
func (m *Manager) settleTrade(ctx context.Context, tick uint64, symbolID int64, t types.Trade) {
	buyerID, sellerID := t.TakerAcct, t.MakerAcct
	if t.MakerSide == types.SideBuy {
		buyerID, sellerID = t.MakerAcct, t.TakerAcct
	}

	key := fmt.Sprintf("trade-%d-%d", symbolID, t.TradeID)
	if err := m.accounts.ApplyTrade(ctx, buyerID, sellerID, symbolID, t.PriceCents, t.QuantityBp, key); err != nil {
		m.logger.Error("trade settlement failed, treating engine state as authoritative", zap.Int64("symbol_id", symbolID), zap.Uint64("trade_id", t.TradeID), zap.Error(err))
		m.escalate(symbolID, tick)
	}
}

// releaseResidual releases a LIMIT BUY order's cash reservation for any
// quantity that will never trade (spec §4.5: "for LIMIT BUY: reserved =
// remaining_bp × price_cents / 10 000"). Sell-side reservations are
// position-based, not cash, and are out of this manager's scope.
func (m *Manager) releaseResidual(ctx context.Context, symbolID int64, ev types.Event) {
	if ev.Side != types.SideBuy || ev.RemainingBp == 0 || ev.PriceCents == 0 {
		return
	}
	reservedCents := ev.RemainingBp * ev.PriceCents / 10_000
	key := fmt.Sprintf("release-%d-%d-%d", symbolID, ev.OrderID, ev.Sequence)
	if err := m.accounts.Release(ctx, ev.AccountID, reservedCents, key); err != nil {
		m.logger.Error("reservation release failed", zap.Int64("symbol_id", symbolID), zap.Uint64("order_id", ev.OrderID), zap.Error(err))
	}
}

func (m *Manager) escalate(symbolID int64, tick uint64) {
	if m.halter == nil {
		return
	}
	if _, err := m.halter.Halt(symbolID, tick); err != nil {
		m.logger.Error("failed to halt symbol after integrity violation", zap.Int64("symbol_id", symbolID), zap.Error(err))
	}
}
