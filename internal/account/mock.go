package account

import (
	"context"
	"sync"

	"github.com/waiver-exchange/core/internal/xerrors"
)

// MemoryClient is an in-memory Client double for tests: balances start at
// whatever Seed sets, idempotency keys are deduplicated across all calls
// and accounts so a replayed call is a true no-op, matching the idempotence contract every
// production implementation must honour.
type MemoryClient struct {
	mu       sync.Mutex
	balances map[uint64]int64
	seenKeys map[string]bool
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		balances: make(map[uint64]int64),
		seenKeys: make(map[string]bool),
	}
}

func (m *MemoryClient) Seed(accountID uint64, balanceCents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = balanceCents
}

func (m *MemoryClient) Balance(accountID uint64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID]
}

func (m *MemoryClient) Reserve(_ context.Context, accountID uint64, amountCents int64, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seenKeys[idempotencyKey] {
		return nil
	}
	if m.balances[accountID] < amountCents {
		return xerrors.New(xerrors.CodeInsufficientFunds, "insufficient balance").WithOrder(0, 0)
	}
	m.balances[accountID] -= amountCents
	m.seenKeys[idempotencyKey] = true
	return nil
}

func (m *MemoryClient) Release(_ context.Context, accountID uint64, amountCents int64, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seenKeys[idempotencyKey] {
		return nil
	}
	m.balances[accountID] += amountCents
	m.seenKeys[idempotencyKey] = true
	return nil
}

func (m *MemoryClient) ApplyTrade(_ context.Context, buyerID, sellerID uint64, symbolID int64, priceCents, quantityBp int64, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seenKeys[idempotencyKey] {
		return nil
	}
	cost := priceCents * quantityBp / 10_000
	m.balances[sellerID] += cost
	m.seenKeys[idempotencyKey] = true
	return nil
}

var _ Client = (*MemoryClient)(nil)
