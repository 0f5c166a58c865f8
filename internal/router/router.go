package router

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/metrics"
	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/xerrors"
)

// wireOrder is the structural shape validated before an Order is even
// considered for admission — field presence and range, nothing
// symbol-specific (that's the engine's validateAdmission). Grounded in the
// same division of labor the teacher draws between transport-level
// binding validation and domain validation.
type wireOrder struct {
	OrderID    uint64 `validate:"required"`
	AccountID  uint64 `validate:"required"`
	SymbolID   int64  `validate:"required"`
	QuantityBp int64  `validate:"gt=0"`
}

// SymbolWorker resolves a symbol to its assigned worker and lazily ensures
// the symbol's engine exists — the coordinator satisfies this.
type SymbolWorker interface {
	Ensure(symbolID int64) (workerID int, err error)
}

const balanceHintTTL = 2 * time.Second

// Router is the sharded ingress point of spec §4.3: one ring per worker
// for inbound orders and a second, smaller ring per worker for cancel
// intents (honoured before new orders of the same tick, spec §4.1), a
// non-authoritative balance-hint cache for fast client-facing rejects, and
// structural pre-validation ahead of the ring.
type Router struct {
	orderRings  []*ring[types.Order]
	cancelRings []*ring[types.CancelIntent]
	coord       SymbolWorker
	validate    *validator.Validate
	hints       *gocache.Cache
	metrics     *metrics.Registry
	logger      *zap.Logger
}

// SetMetrics attaches a metrics registry for backpressure-reject counting
// and queue-depth gauges. Optional — a Router with no registry attached
// simply skips reporting.
func (r *Router) SetMetrics(m *metrics.Registry) { r.metrics = m }

// New builds a Router with one order ring of ringSize slots and one
// cancel ring of ringSize/4 slots (cancels are far rarer) per worker.
func New(workersN int, ringSize uint64, coord SymbolWorker, logger *zap.Logger) *Router {
	orderRings := make([]*ring[types.Order], workersN)
	cancelRings := make([]*ring[types.CancelIntent], workersN)
	cancelSize := ringSize / 4
	if cancelSize == 0 {
		cancelSize = 1
	}
	for i := range orderRings {
		orderRings[i] = newRing[types.Order](ringSize)
		cancelRings[i] = newRing[types.CancelIntent](cancelSize)
	}
	return &Router{
		orderRings:  orderRings,
		cancelRings: cancelRings,
		coord:       coord,
		validate:    validator.New(),
		hints:       gocache.New(balanceHintTTL, balanceHintTTL*2),
		logger:      logger,
	}
}

// SetBalanceHint records a non-authoritative balance for accountID. Ingress
// reads it only to produce a fast client-facing reject hint — it must
// never gate acceptance (spec §5): the engine and execution manager remain
// the sole source of truth for reservations.
func (r *Router) SetBalanceHint(accountID uint64, availableCents int64) {
	r.hints.Set(fmt.Sprintf("%d", accountID), availableCents, gocache.DefaultExpiration)
}

// BalanceHint returns the last known balance hint for accountID, if any
// and not expired.
func (r *Router) BalanceHint(accountID uint64) (int64, bool) {
	v, ok := r.hints.Get(fmt.Sprintf("%d", accountID))
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

// Route validates o structurally, assigns its shard via the coordinator's
// worker placement, and pushes it onto that shard's ring. It never blocks
// on a full ring — BackpressureReject is returned instead (spec §4.3).
func (r *Router) Route(o types.Order) error {
	wo := wireOrder{OrderID: o.OrderID, AccountID: o.AccountID, SymbolID: o.SymbolID, QuantityBp: o.QuantityBp}
	if err := r.validate.Struct(wo); err != nil {
		return xerrors.Wrap(err, xerrors.CodeBadQuantity, "malformed order").WithOrder(o.SymbolID, o.OrderID)
	}

	workerID, err := r.coord.Ensure(o.SymbolID)
	if err != nil {
		return err
	}
	if workerID < 0 || workerID >= len(r.orderRings) {
		return xerrors.Newf(xerrors.CodeBadSymbol, "worker id %d out of range", workerID).WithOrder(o.SymbolID, o.OrderID)
	}

	reject := func() error {
		return xerrors.New(xerrors.CodeBackpressureReject, "router order queue full").WithOrder(o.SymbolID, o.OrderID)
	}
	if err := r.orderRings[workerID].push(o, reject); err != nil {
		if r.logger != nil {
			r.logger.Warn("router backpressure", zap.Int64("symbol_id", o.SymbolID), zap.Uint64("order_id", o.OrderID), zap.Int("worker_id", workerID))
		}
		if r.metrics != nil {
			r.metrics.RouterBackpressureRejects.WithLabelValues("order").Inc()
		}
		return err
	}
	return nil
}

// RouteCancel pushes a cancel intent onto its symbol's worker shard,
// ahead of the order ring logically (the worker drains cancels before
// orders each tick) even though the two rings are physically separate.
func (r *Router) RouteCancel(c types.CancelIntent) error {
	workerID, err := r.coord.Ensure(c.SymbolID)
	if err != nil {
		return err
	}
	reject := func() error {
		return xerrors.New(xerrors.CodeBackpressureReject, "router cancel queue full").WithOrder(c.SymbolID, c.OrderID)
	}
	if err := r.cancelRings[workerID].push(c, reject); err != nil {
		if r.metrics != nil {
			r.metrics.RouterBackpressureRejects.WithLabelValues("cancel").Inc()
		}
		return err
	}
	return nil
}

// Drain returns every order published to workerID's ring since the last
// drain, in arrival order. Called once per tick by the worker that owns
// workerID (spec §4.4) — never call this concurrently for the same
// workerID from more than one goroutine.
func (r *Router) Drain(workerID int, buf []types.Order) []types.Order {
	out := r.orderRings[workerID].drain(buf[:0])
	if r.metrics != nil {
		r.metrics.RouterQueueDepth.WithLabelValues(workerIDLabel(workerID), "order").Set(float64(r.orderRings[workerID].depth()))
	}
	return out
}

// DrainCancels is Drain's counterpart for cancel intents.
func (r *Router) DrainCancels(workerID int, buf []types.CancelIntent) []types.CancelIntent {
	out := r.cancelRings[workerID].drain(buf[:0])
	if r.metrics != nil {
		r.metrics.RouterQueueDepth.WithLabelValues(workerIDLabel(workerID), "cancel").Set(float64(r.cancelRings[workerID].depth()))
	}
	return out
}

func workerIDLabel(workerID int) string {
	return strconv.Itoa(workerID)
}
