// Package clock implements the simulation clock of spec §4.4: a single
// monotonically increasing tick counter, published under a release store
// and read under an acquire load by every worker, with a quiescence
// barrier (golang.org/x/sync/errgroup) gating advancement to the next
// tick. Ticks are not wall-clock bound — the clock runs as fast as the
// slowest worker for that tick.
package clock

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/waiver-exchange/core/internal/coordinator"
	"github.com/waiver-exchange/core/internal/engine"
	"github.com/waiver-exchange/core/internal/metrics"
	"github.com/waiver-exchange/core/internal/router"
	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/wal"
)

// Sink receives one symbol's event batch for one tick, in the order the
// clock produced them (ascending symbol_id within the tick, per spec
// §4.4/§4.5's fixed cross-symbol order). Ingest runs synchronously on the
// goroutine that called Advance; the execution manager has no queue of its
// own, so its WAL appends and settlement calls complete before Advance
// moves to the next tick.
type Sink interface {
	Ingest(tick uint64, symbolID int64, events []types.Event)
}

// InputLog durably records an Input record before the clock submits it to
// an engine (spec §4.6 recovery replays these). Nil-able: a clock run
// without an InputLog (e.g. in tests) skips input logging entirely.
type InputLog interface {
	Append(tick uint64, kind wal.RecordKind, payload []byte) (uint64, error)
}

// Clock drives tick boundaries across the coordinator's fixed worker pool.
type Clock struct {
	tick    uint64 // atomic
	coord   *coordinator.Coordinator
	router  *router.Router
	sink    Sink
	inputs  InputLog
	metrics *metrics.Registry
	logger  *zap.Logger
}

// New constructs a Clock starting at tick 0 (or resumeFromTick, after
// recovery replay). inputs may be nil to skip WAL input logging (tests).
func New(coord *coordinator.Coordinator, r *router.Router, sink Sink, inputs InputLog, resumeFromTick uint64, logger *zap.Logger) *Clock {
	return &Clock{tick: resumeFromTick, coord: coord, router: r, sink: sink, inputs: inputs, logger: logger}
}

// SetMetrics attaches a metrics registry for per-tick duration observation.
// Optional — a Clock with no registry attached simply skips reporting.
func (c *Clock) SetMetrics(m *metrics.Registry) { c.metrics = m }

// CurrentTick reads the published tick under an acquire load.
func (c *Clock) CurrentTick() uint64 {
	return atomic.LoadUint64(&c.tick)
}

// tickBatch is one symbol's event output for one tick, collected by the
// worker that ran its engine but not yet delivered to the sink — delivery
// is deferred to Advance so every symbol lands on the sink in a single,
// fixed global order regardless of which worker produced it.
type tickBatch struct {
	symbolID int64
	events   []types.Event
}

// Advance runs exactly one tick boundary: every worker drains its router
// shard, dispatches orders/cancels to its resident engines, and each
// active engine runs tick(tick_id) — all under the barrier, in parallel
// across workers. Only after every worker quiesces (spec §4.4) does a
// single goroutine forward the tick's event batches to the sink, in
// ascending symbol_id order (spec §4.5/§5's fixed cross-symbol order):
// the WAL/event stream this produces must be identical run over run for
// identical input (spec §8), which parallel workers calling Ingest
// directly cannot guarantee, since their finishing order is scheduler
// dependent. One worker's failure aborts the whole tick.
func (c *Clock) Advance(ctx context.Context) error {
	tickID := c.CurrentTick()
	start := time.Now()
	if c.metrics != nil {
		defer c.metrics.ObserveTick(start)
	}

	workersN := c.coord.WorkersN()
	perWorker := make([][]tickBatch, workersN)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workersN; w++ {
		workerID := w
		g.Go(func() error {
			batches, err := c.runWorkerTick(gctx, workerID, tickID)
			perWorker[workerID] = batches
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if c.sink != nil {
		var pending []tickBatch
		for _, batches := range perWorker {
			pending = append(pending, batches...)
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].symbolID < pending[j].symbolID })
		for _, b := range pending {
			c.sink.Ingest(tickID, b.symbolID, b.events)
		}
	}

	atomic.StoreUint64(&c.tick, tickID+1)
	return nil
}

func (c *Clock) runWorkerTick(ctx context.Context, workerID int, tickID uint64) ([]tickBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cancels := c.router.DrainCancels(workerID, nil)
	for _, cancel := range cancels {
		c.logInput(tickID, cancel)
		if eng, ok := c.coord.Lookup(cancel.SymbolID); ok {
			if err := eng.Cancel(cancel); err != nil && c.logger != nil {
				c.logger.Debug("tick-time cancel rejected", zap.Int64("symbol_id", cancel.SymbolID), zap.Uint64("order_id", cancel.OrderID), zap.Error(err))
			}
		}
	}

	orders := c.router.Drain(workerID, nil)
	for _, o := range orders {
		c.logInput(tickID, o)
		eng, ok := c.coord.Lookup(o.SymbolID)
		if !ok {
			continue // no engine was ever ensured for this symbol; the order is dropped
		}
		if err := eng.Submit(o); err != nil && c.logger != nil {
			c.logger.Debug("tick-time submit rejected", zap.Int64("symbol_id", o.SymbolID), zap.Uint64("order_id", o.OrderID), zap.Error(err))
		}
	}

	var batches []tickBatch
	var tickErr error
	c.coord.ForEachActiveOnWorker(workerID, func(symbolID int64, eng *engine.Engine) {
		if tickErr != nil {
			return
		}
		events := eng.Tick(tickID)
		if len(events) > 0 {
			batches = append(batches, tickBatch{symbolID: symbolID, events: events})
		}
	})
	return batches, tickErr
}

// logInput appends an Input WAL record ahead of submitting v to an engine
// (spec §4.6: recovery replays Input records from the WAL). Marshal/append
// failures are logged, not fatal — a missing input record only degrades
// future recovery fidelity, it never corrupts the live run.
func (c *Clock) logInput(tickID uint64, v any) {
	if c.inputs == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("marshal input for wal", zap.Error(err))
		}
		return
	}
	if _, err := c.inputs.Append(tickID, wal.KindInput, payload); err != nil && c.logger != nil {
		c.logger.Error("wal append input failed", zap.Error(err))
	}
}
