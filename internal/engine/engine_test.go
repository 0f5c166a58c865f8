package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Config{
		SymbolID:            764,
		SelfMatchPolicy:     types.SelfMatchReject,
		PriceBandBps:        0, // wide enough band per scenario preconditions
		ReferencePriceCents: 0,
	}, zap.NewNop())
	e.Activate()
	return e
}

func kindsOf(events []types.Event) []types.EventKind {
	out := make([]types.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

// Scenario 1: LIMIT rest then cross.
func TestScenario_LimitRestThenCross(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Submit(types.Order{OrderID: 1, AccountID: 100, SymbolID: 764, Side: types.SideSell, Kind: types.KindLimit, PriceCents: 1600, QuantityBp: 100_000}))
	events := e.Tick(1)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventOrderAccepted, events[0].Kind)
	assert.Equal(t, types.EventBookDelta, events[1].Kind)
	assert.Equal(t, int64(100_000), events[1].LevelTotalBp)

	require.NoError(t, e.Submit(types.Order{OrderID: 2, AccountID: 200, SymbolID: 764, Side: types.SideBuy, Kind: types.KindLimit, PriceCents: 1600, QuantityBp: 60_000}))
	events = e.Tick(2)

	require.Equal(t, []types.EventKind{
		types.EventOrderAccepted,
		types.EventTradeExecuted,
		types.EventBookDelta,
		types.EventOrderPartiallyFilled,
		types.EventOrderFilled,
	}, kindsOf(events))

	trade := events[1].Trade
	assert.Equal(t, int64(1600), trade.PriceCents)
	assert.Equal(t, int64(60_000), trade.QuantityBp)
	assert.Equal(t, uint64(1), trade.MakerOrder)
	assert.Equal(t, uint64(2), trade.TakerOrder)

	assert.Equal(t, int64(40_000), events[2].LevelTotalBp)
	ask, ok := e.book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(1600), ask)
}

// Scenario 2: MARKET sweeps two levels.
func TestScenario_MarketSweepsTwoLevels(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Submit(types.Order{OrderID: 1, AccountID: 1, SymbolID: 764, Side: types.SideSell, Kind: types.KindLimit, PriceCents: 1500, QuantityBp: 30_000}))
	require.NoError(t, e.Submit(types.Order{OrderID: 2, AccountID: 2, SymbolID: 764, Side: types.SideSell, Kind: types.KindLimit, PriceCents: 1505, QuantityBp: 20_000}))
	e.Tick(1)

	require.NoError(t, e.Submit(types.Order{OrderID: 3, AccountID: 3, SymbolID: 764, Side: types.SideBuy, Kind: types.KindMarket, QuantityBp: 40_000}))
	events := e.Tick(2)

	var trades []types.Trade
	for _, ev := range events {
		if ev.Kind == types.EventTradeExecuted {
			trades = append(trades, ev.Trade)
		}
	}
	require.Len(t, trades, 2)
	assert.Equal(t, int64(1500), trades[0].PriceCents)
	assert.Equal(t, int64(30_000), trades[0].QuantityBp)
	assert.Equal(t, int64(1505), trades[1].PriceCents)
	assert.Equal(t, int64(10_000), trades[1].QuantityBp)

	ask, ok := e.book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(1505), ask)
	assert.Equal(t, int64(10_000), e.levelTotal(types.SideSell, 1505))

	last := events[len(events)-1]
	assert.Equal(t, types.EventOrderFilled, last.Kind)
}

// Scenario 3: POST_ONLY rejection.
func TestScenario_PostOnlyRejection(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Submit(types.Order{OrderID: 1, AccountID: 1, SymbolID: 764, Side: types.SideSell, Kind: types.KindLimit, PriceCents: 1600, QuantityBp: 10_000}))
	e.Tick(1)

	require.NoError(t, e.Submit(types.Order{OrderID: 2, AccountID: 2, SymbolID: 764, Side: types.SideBuy, Kind: types.KindPostOnly, PriceCents: 1600, QuantityBp: 10_000}))
	events := e.Tick(2)

	require.Len(t, events, 1)
	assert.Equal(t, types.EventOrderRejected, events[0].Kind)
	assert.Equal(t, "POST_ONLY_CROSS", events[0].Reason)
	assert.Equal(t, int64(10_000), e.levelTotal(types.SideSell, 1600))
}

// Scenario 4: IOC residual cancelled.
func TestScenario_IOCResidualCancelled(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Submit(types.Order{OrderID: 1, AccountID: 1, SymbolID: 764, Side: types.SideSell, Kind: types.KindLimit, PriceCents: 1500, QuantityBp: 5_000}))
	e.Tick(1)

	require.NoError(t, e.Submit(types.Order{OrderID: 2, AccountID: 2, SymbolID: 764, Side: types.SideBuy, Kind: types.KindIOC, PriceCents: 1500, QuantityBp: 20_000}))
	events := e.Tick(2)

	require.Equal(t, []types.EventKind{
		types.EventOrderAccepted,
		types.EventTradeExecuted,
		types.EventBookDelta,
		types.EventOrderFilled,  // maker fully consumed
		types.EventOrderCancelled, // taker residual
	}, kindsOf(events))

	cancelled := events[len(events)-1]
	assert.Equal(t, "IOC_REMAINING", cancelled.Reason)
	assert.Equal(t, int64(15_000), cancelled.RemainingBp)
}

// Scenario 5: self-match prevention.
func TestScenario_SelfMatchPrevention(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Submit(types.Order{OrderID: 1, AccountID: 42, SymbolID: 764, Side: types.SideSell, Kind: types.KindLimit, PriceCents: 1500, QuantityBp: 10_000}))
	e.Tick(1)

	require.NoError(t, e.Submit(types.Order{OrderID: 2, AccountID: 42, SymbolID: 764, Side: types.SideBuy, Kind: types.KindLimit, PriceCents: 1500, QuantityBp: 10_000}))
	events := e.Tick(2)

	require.Len(t, events, 1)
	assert.Equal(t, types.EventOrderRejected, events[0].Kind)
	assert.Equal(t, "SELF_MATCH", events[0].Reason)
	assert.Equal(t, int64(10_000), e.levelTotal(types.SideSell, 1500))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Submit(types.Order{OrderID: 1, AccountID: 1, SymbolID: 764, Side: types.SideSell, Kind: types.KindLimit, PriceCents: 1500, QuantityBp: 10_000}))
	require.NoError(t, e.Submit(types.Order{OrderID: 2, AccountID: 2, SymbolID: 764, Side: types.SideSell, Kind: types.KindLimit, PriceCents: 1500, QuantityBp: 5_000}))
	require.NoError(t, e.Submit(types.Order{OrderID: 3, AccountID: 3, SymbolID: 764, Side: types.SideBuy, Kind: types.KindLimit, PriceCents: 1490, QuantityBp: 20_000}))
	e.Tick(1)

	snap, err := e.Snapshot()
	require.NoError(t, err)

	restored := New(Config{SymbolID: 764, SelfMatchPolicy: types.SelfMatchReject}, zap.NewNop())
	require.NoError(t, restored.Restore(snap))

	snap2, err := restored.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap, snap2)

	ask, ok := restored.book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(1500), ask)
	assert.Equal(t, int64(15_000), restored.levelTotal(types.SideSell, 1500))
}

func TestQuantityDivisibilityBoundaries(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Submit(types.Order{OrderID: 1, AccountID: 1, SymbolID: 764, Side: types.SideBuy, Kind: types.KindLimit, PriceCents: 100, QuantityBp: 1}))
	require.NoError(t, e.Submit(types.Order{OrderID: 2, AccountID: 1, SymbolID: 764, Side: types.SideBuy, Kind: types.KindLimit, PriceCents: 100, QuantityBp: 0}))
	events := e.Tick(1)

	require.Len(t, events, 3)
	assert.Equal(t, types.EventOrderAccepted, events[0].Kind)
	assert.Equal(t, types.EventBookDelta, events[1].Kind)
	assert.Equal(t, types.EventOrderRejected, events[2].Kind)
	assert.Equal(t, "BAD_QUANTITY", events[2].Reason)
}

func TestPriceBoundaries(t *testing.T) {
	e := New(Config{SymbolID: 764, SelfMatchPolicy: types.SelfMatchReject, PriceBandBps: 3000, ReferencePriceCents: 1000}, zap.NewNop())
	e.Activate()

	require.NoError(t, e.Submit(types.Order{OrderID: 1, AccountID: 1, SymbolID: 764, Side: types.SideBuy, Kind: types.KindLimit, PriceCents: 1300, QuantityBp: 1_000}))
	require.NoError(t, e.Submit(types.Order{OrderID: 2, AccountID: 1, SymbolID: 764, Side: types.SideBuy, Kind: types.KindLimit, PriceCents: 1301, QuantityBp: 1_000}))
	require.NoError(t, e.Submit(types.Order{OrderID: 3, AccountID: 1, SymbolID: 764, Side: types.SideBuy, Kind: types.KindLimit, PriceCents: 0, QuantityBp: 1_000}))
	events := e.Tick(1)

	assert.Equal(t, types.EventOrderAccepted, events[0].Kind)
	lastTwo := events[len(events)-2:]
	// order 2 rejected (band edge + 1), order 3 rejected (price 0 invalid)
	foundBand, foundPrice := false, false
	for _, ev := range events {
		if ev.Kind == types.EventOrderRejected {
			if ev.Reason == "PRICE_OUT_OF_BAND" {
				foundBand = true
			}
			if ev.Reason == "BAD_PRICE" {
				foundPrice = true
			}
		}
	}
	assert.True(t, foundBand)
	assert.True(t, foundPrice)
	_ = lastTwo
}
