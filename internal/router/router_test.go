package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/xerrors"
)

type fixedWorker struct{ workerID int }

func (f fixedWorker) Ensure(symbolID int64) (int, error) { return f.workerID, nil }

func TestRouteThenDrainPreservesArrivalOrder(t *testing.T) {
	r := New(2, 8, fixedWorker{workerID: 1}, zap.NewNop())

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, r.Route(types.Order{OrderID: i, AccountID: 1, SymbolID: 764, QuantityBp: 10_000}))
	}

	drained := r.Drain(1, nil)
	require.Len(t, drained, 5)
	for i, o := range drained {
		assert.Equal(t, uint64(i+1), o.OrderID)
	}

	// the other shard never received anything
	assert.Empty(t, r.Drain(0, nil))
}

func TestRouteRejectsMalformedOrder(t *testing.T) {
	r := New(1, 8, fixedWorker{}, zap.NewNop())
	err := r.Route(types.Order{OrderID: 1, AccountID: 1, SymbolID: 764, QuantityBp: 0})
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.CodeBadQuantity))
}

func TestRouteBackpressureRejectsWhenRingFull(t *testing.T) {
	r := New(1, 2, fixedWorker{}, zap.NewNop())
	for i := uint64(1); i <= 2; i++ {
		require.NoError(t, r.Route(types.Order{OrderID: i, AccountID: 1, SymbolID: 764, QuantityBp: 10_000}))
	}
	err := r.Route(types.Order{OrderID: 3, AccountID: 1, SymbolID: 764, QuantityBp: 10_000})
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.CodeBackpressureReject))
}

func TestDrainThenPushReclaimsSlots(t *testing.T) {
	r := New(1, 2, fixedWorker{}, zap.NewNop())
	require.NoError(t, r.Route(types.Order{OrderID: 1, AccountID: 1, SymbolID: 764, QuantityBp: 10_000}))
	require.NoError(t, r.Route(types.Order{OrderID: 2, AccountID: 1, SymbolID: 764, QuantityBp: 10_000}))
	require.NotEmpty(t, r.Drain(0, nil))

	require.NoError(t, r.Route(types.Order{OrderID: 3, AccountID: 1, SymbolID: 764, QuantityBp: 10_000}))
	drained := r.Drain(0, nil)
	require.Len(t, drained, 1)
	assert.Equal(t, uint64(3), drained[0].OrderID)
}

func TestBalanceHintRoundTrip(t *testing.T) {
	r := New(1, 8, fixedWorker{}, zap.NewNop())
	_, ok := r.BalanceHint(7)
	assert.False(t, ok)

	r.SetBalanceHint(7, 50000)
	v, ok := r.BalanceHint(7)
	require.True(t, ok)
	assert.Equal(t, int64(50000), v)
}
