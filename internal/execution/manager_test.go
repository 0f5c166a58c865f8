package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/account"
	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/wal"
)

type fakeHalter struct {
	halted   bool
	symbolID int64
}

func (h *fakeHalter) Halt(symbolID int64, tickID uint64) (types.Event, error) {
	h.halted = true
	h.symbolID = symbolID
	return types.Event{Kind: types.EventLifecycleTransition, State: types.StateHalted, SymbolID: symbolID, Tick: tickID}, nil
}

func newTestManager(t *testing.T) (*Manager, *account.MemoryClient, *fakeHalter) {
	t.Helper()
	w, err := wal.NewWriter(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	accounts := account.NewMemoryClient()
	halter := &fakeHalter{}
	return NewManager(accounts, w, nil, halter, zap.NewNop()), accounts, halter
}

func TestIngestSettlesTradeCreditingSeller(t *testing.T) {
	m, accounts, _ := newTestManager(t)
	accounts.Seed(1, 0)

	m.Ingest(1, 764, []types.Event{
		{Kind: types.EventTradeExecuted, SymbolID: 764, Tick: 1, Trade: types.Trade{
			TradeID: 1, MakerAcct: 1, TakerAcct: 2, PriceCents: 1500, QuantityBp: 10_000, MakerSide: types.SideSell,
		}},
	})

	assert.Equal(t, int64(1500), accounts.Balance(1))
}

func TestIngestReleasesResidualOnLimitBuyCancel(t *testing.T) {
	m, accounts, _ := newTestManager(t)
	accounts.Seed(5, 0)

	m.Ingest(1, 764, []types.Event{
		{Kind: types.EventOrderCancelled, OrderID: 9, AccountID: 5, SymbolID: 764, Side: types.SideBuy, PriceCents: 1000, RemainingBp: 5_000, Sequence: 1},
	})

	assert.Equal(t, int64(500), accounts.Balance(5))
}

func TestIngestDoesNotReleaseOnSellSideTerminal(t *testing.T) {
	m, accounts, _ := newTestManager(t)
	accounts.Seed(5, 0)

	m.Ingest(1, 764, []types.Event{
		{Kind: types.EventOrderCancelled, OrderID: 9, AccountID: 5, SymbolID: 764, Side: types.SideSell, PriceCents: 1000, RemainingBp: 5_000, Sequence: 1},
	})

	assert.Equal(t, int64(0), accounts.Balance(5))
}
