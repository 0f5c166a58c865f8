// Package engine implements the per-symbol matching core: spec §4.1. One
// Engine owns exactly one symbol's Book and is never touched by more than
// one worker goroutine (spec §5) — there are no locks in this package.
package engine

import (
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/xerrors"
)

// Config configures a single engine instance at construction. Per spec §9
// these values are fixed for the engine's lifetime — there is no ambient
// reconfiguration of the hot path.
type Config struct {
	SymbolID            int64
	SelfMatchPolicy     types.SelfMatchPolicy
	PriceBandBps        int64 // e.g. 3000 == +/-30%
	ReferencePriceCents int64
	BookCapacityHint    int
}

// Engine is the per-symbol matching state machine described in spec §4.1.
type Engine struct {
	cfg   Config
	state types.EngineState
	book  *Book

	inboxOrders  []types.Order
	inboxCancels []types.CancelIntent

	tradeSeq uint64
	eventSeq uint64

	validate *validator.Validate
	logger   *zap.Logger
}

// New constructs an Idle engine for one symbol.
func New(cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		state:    types.StateIdle,
		book:     newBook(cfg.SymbolID, cfg.BookCapacityHint),
		validate: validator.New(),
		logger:   logger,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() types.EngineState { return e.state }

// Activate transitions Idle -> Active. Idempotent once Active.
func (e *Engine) Activate() {
	if e.state == types.StateIdle {
		e.state = types.StateActive
	}
}

// Submit enqueues an order into the engine's per-tick inbox. The checks
// performed here are the symbol match (spec §4.1) and the lifecycle state
// (Draining and Halted engines refuse new orders); everything else is
// deferred to tick() so that admission/matching always runs on the
// engine's own goroutine.
func (e *Engine) Submit(o types.Order) error {
	if o.SymbolID != e.cfg.SymbolID {
		return xerrors.New(xerrors.CodeBadSymbol, "order symbol does not match engine symbol").WithOrder(o.SymbolID, o.OrderID)
	}
	if e.state == types.StateDraining {
		return xerrors.New(xerrors.CodeEngineDraining, "engine is draining, new orders are rejected").WithOrder(o.SymbolID, o.OrderID)
	}
	if e.state == types.StateHalted {
		return xerrors.New(xerrors.CodeHalted, "engine is halted").WithOrder(o.SymbolID, o.OrderID)
	}
	e.inboxOrders = append(e.inboxOrders, o)
	return nil
}

// Cancel enqueues a cancel intent, honoured before new orders of the same
// tick per spec §4.1.
func (e *Engine) Cancel(c types.CancelIntent) error {
	if c.SymbolID != e.cfg.SymbolID {
		return xerrors.New(xerrors.CodeBadSymbol, "cancel symbol does not match engine symbol")
	}
	e.inboxCancels = append(e.inboxCancels, c)
	return nil
}

// Tick drains the inbox in arrival order (cancels first, then orders) and
// returns the ordered event batch for this tick (spec §4.4).
func (e *Engine) Tick(tickID uint64) []types.Event {
	e.eventSeq = 0
	var events []types.Event

	for _, c := range e.inboxCancels {
		events = append(events, e.processCancel(tickID, c)...)
	}
	e.inboxCancels = e.inboxCancels[:0]

	for _, o := range e.inboxOrders {
		events = append(events, e.processOrder(tickID, o)...)
	}
	e.inboxOrders = e.inboxOrders[:0]

	if e.state == types.StateDraining && len(e.book.byKey) == 0 {
		e.state = types.StateStopped
		events = append(events, e.emit(tickID, types.Event{Kind: types.EventLifecycleTransition, State: types.StateStopped}))
	}

	return events
}

// Halt transitions the engine to Halted immediately (spec §7, Integrity
// errors are escalated here by the execution manager).
func (e *Engine) Halt(tickID uint64) types.Event {
	e.state = types.StateHalted
	return e.emit(tickID, types.Event{Kind: types.EventLifecycleTransition, State: types.StateHalted})
}

// BeginDrain transitions Active -> Draining (spec §4.2): the coordinator
// continues to call Tick but Submit rejects new orders until the book
// empties, at which point Tick transitions to Stopped.
func (e *Engine) BeginDrain() {
	if e.state == types.StateActive {
		e.state = types.StateDraining
	}
}

func (e *Engine) emit(tickID uint64, ev types.Event) types.Event {
	ev.Tick = tickID
	ev.SymbolID = e.cfg.SymbolID
	ev.Sequence = e.eventSeq
	e.eventSeq++
	return ev
}

func (e *Engine) nextTradeID() uint64 {
	e.tradeSeq++
	return e.tradeSeq
}
