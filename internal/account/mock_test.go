package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveDebitsBalanceOnce(t *testing.T) {
	c := NewMemoryClient()
	c.Seed(1, 10_000)

	require.NoError(t, c.Reserve(context.Background(), 1, 4_000, "key-1"))
	assert.Equal(t, int64(6_000), c.Balance(1))

	// replay with the same idempotency key must be a no-op
	require.NoError(t, c.Reserve(context.Background(), 1, 4_000, "key-1"))
	assert.Equal(t, int64(6_000), c.Balance(1))
}

func TestReserveRejectsInsufficientBalance(t *testing.T) {
	c := NewMemoryClient()
	c.Seed(1, 100)
	err := c.Reserve(context.Background(), 1, 4_000, "key-2")
	require.Error(t, err)
}

func TestReleaseCreditsBalance(t *testing.T) {
	c := NewMemoryClient()
	c.Seed(1, 0)
	require.NoError(t, c.Release(context.Background(), 1, 500, "key-3"))
	assert.Equal(t, int64(500), c.Balance(1))
}

func TestApplyTradeCreditsSeller(t *testing.T) {
	c := NewMemoryClient()
	require.NoError(t, c.ApplyTrade(context.Background(), 10, 20, 764, 1500, 10_000, "key-4"))
	assert.Equal(t, int64(1500), c.Balance(20))
}
