// Package coordinator implements the symbol coordinator of spec §4.2: it
// owns the set of live engines, places each on a fixed worker, and exposes
// the lookup the router needs and the iteration the clock needs.
package coordinator

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/engine"
	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/xerrors"
)

// EngineFactory builds a fresh engine Config for a symbol the first time
// the coordinator sees it — price band, reference price and self-match
// policy are supplied per symbol (spec §4.1).
type EngineFactory func(symbolID int64) engine.Config

type handle struct {
	eng      *engine.Engine
	workerID int
}

// Coordinator owns the lifecycle and worker placement of every live
// engine. Only the map mutates under a lock; an individual engine's book
// and inbox are touched exclusively by the worker goroutine that owns it
// (spec §5) — ensure/stop never reach into engine-internal state directly.
type Coordinator struct {
	mu       sync.RWMutex
	engines  map[int64]*handle
	workersN int
	factory  EngineFactory
	logger   *zap.Logger
	snapPool *ants.Pool
}

// New constructs a coordinator for a fixed pool of workersN worker
// threads.
func New(workersN int, factory EngineFactory, logger *zap.Logger) (*Coordinator, error) {
	if workersN <= 0 {
		return nil, fmt.Errorf("coordinator: workersN must be positive, got %d", workersN)
	}
	pool, err := ants.NewPool(workersN, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("coordinator: create snapshot pool: %w", err)
	}
	return &Coordinator{
		engines:  make(map[int64]*handle),
		workersN: workersN,
		factory:  factory,
		logger:   logger,
		snapPool: pool,
	}, nil
}

// AssignWorker is the deterministic symbol -> worker function spec §4.2
// requires (stable hash mod N workers); it never changes for a live
// engine's lifetime.
func (c *Coordinator) AssignWorker(symbolID int64) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d", symbolID)
	return int(h.Sum32()) % c.workersN
}

// Ensure lazily instantiates an engine for symbolID if none exists yet and
// returns its worker assignment. Idempotent.
func (c *Coordinator) Ensure(symbolID int64) (workerID int, err error) {
	c.mu.RLock()
	if h, ok := c.engines[symbolID]; ok {
		c.mu.RUnlock()
		return h.workerID, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.engines[symbolID]; ok {
		return h.workerID, nil
	}

	cfg := c.factory(symbolID)
	cfg.SymbolID = symbolID
	eng := engine.New(cfg, c.logger.With(zap.Int64("symbol_id", symbolID)))
	eng.Activate()

	wid := c.AssignWorker(symbolID)
	c.engines[symbolID] = &handle{eng: eng, workerID: wid}
	return wid, nil
}

// Lookup returns the live engine for symbolID, if any.
func (c *Coordinator) Lookup(symbolID int64) (*engine.Engine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.engines[symbolID]
	if !ok {
		return nil, false
	}
	return h.eng, true
}

// Stop transitions symbolID's engine Active -> Draining; the engine keeps
// accepting Tick() calls and finishes transitioning to Stopped on its own
// once its book empties (spec §4.2).
func (c *Coordinator) Stop(symbolID int64) error {
	c.mu.RLock()
	h, ok := c.engines[symbolID]
	c.mu.RUnlock()
	if !ok {
		return xerrors.New(xerrors.CodeBadSymbol, "no engine for symbol").WithOrder(symbolID, 0)
	}
	h.eng.BeginDrain()
	return nil
}

// Halt immediately transitions symbolID's engine to Halted — used to
// escalate an Integrity error (spec §7).
func (c *Coordinator) Halt(symbolID int64, tickID uint64) (types.Event, error) {
	c.mu.RLock()
	h, ok := c.engines[symbolID]
	c.mu.RUnlock()
	if !ok {
		return types.Event{}, xerrors.New(xerrors.CodeBadSymbol, "no engine for symbol").WithOrder(symbolID, 0)
	}
	return h.eng.Halt(tickID), nil
}

// ForEachActive invokes fn for every engine that is not Stopped or Halted,
// in ascending symbol_id order — the clock uses this to drive ticks, and
// ascending symbol_id is also this run's fixed cross-symbol event order
// (spec §4.5/§5, configurable, default AscendingSymbolId).
func (c *Coordinator) ForEachActive(fn func(symbolID int64, eng *engine.Engine)) {
	c.mu.RLock()
	ids := make([]int64, 0, len(c.engines))
	for id, h := range c.engines {
		if h.eng.State() == types.StateStopped || h.eng.State() == types.StateHalted {
			continue
		}
		ids = append(ids, id)
	}
	snapshot := make(map[int64]*engine.Engine, len(ids))
	for _, id := range ids {
		snapshot[id] = c.engines[id].eng
	}
	c.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(id, snapshot[id])
	}
}

// ForEachActiveOnWorker is ForEachActive restricted to the engines placed
// on workerID — the clock's per-worker tick goroutine uses this to find
// its shard of symbols without touching any other worker's engines.
func (c *Coordinator) ForEachActiveOnWorker(workerID int, fn func(symbolID int64, eng *engine.Engine)) {
	c.mu.RLock()
	ids := make([]int64, 0, len(c.engines))
	for id, h := range c.engines {
		if h.workerID != workerID {
			continue
		}
		if h.eng.State() == types.StateStopped || h.eng.State() == types.StateHalted {
			continue
		}
		ids = append(ids, id)
	}
	snapshot := make(map[int64]*engine.Engine, len(ids))
	for _, id := range ids {
		snapshot[id] = c.engines[id].eng
	}
	c.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(id, snapshot[id])
	}
}

// WorkersN reports the fixed worker pool size.
func (c *Coordinator) WorkersN() int { return c.workersN }

// SnapshotAll serializes every live engine's state, fanning the CPU-bound
// serialization work out across a bounded ants pool (spec §4.2) and
// joining before returning. One failure aborts the whole snapshot.
func (c *Coordinator) SnapshotAll() (map[int64][]byte, error) {
	c.mu.RLock()
	ids := make([]int64, 0, len(c.engines))
	engines := make(map[int64]*engine.Engine, len(c.engines))
	for id, h := range c.engines {
		ids = append(ids, id)
		engines[id] = h.eng
	}
	c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results = make(map[int64][]byte, len(ids))
		firstErr error
	)

	for _, id := range ids {
		id := id
		wg.Add(1)
		err := c.snapPool.Submit(func() {
			defer wg.Done()
			data, err := engines[id].Snapshot()
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("snapshot symbol %d: %w", id, err)
				}
				return
			}
			results[id] = data
		})
		if err != nil {
			wg.Done()
			return nil, fmt.Errorf("coordinator: submit snapshot job: %w", err)
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// Restore lazily instantiates symbolID's engine (as Ensure does) and then
// replaces its state with a prior Snapshot payload — used at startup to
// resume from the latest snapshot (spec §4.6). WAL records past the
// snapshot are not replayed into the restored engine.
func (c *Coordinator) Restore(symbolID int64, snapshot []byte) error {
	if _, err := c.Ensure(symbolID); err != nil {
		return err
	}
	eng, _ := c.Lookup(symbolID)
	return eng.Restore(snapshot)
}

// Release frees pool resources; call once during process shutdown.
func (c *Coordinator) Release() {
	c.snapPool.Release()
}
