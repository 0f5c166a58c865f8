package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotSaveThenLoadLatestRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSnapshotStore(dir)
	require.NoError(t, err)

	payloads := map[int64][]byte{
		1: []byte("engine-state-for-symbol-1"),
		2: []byte("engine-state-for-symbol-2"),
	}
	require.NoError(t, store.Save(10, 42, payloads))

	manifest, loaded, err := store.LoadLatest()
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.Equal(t, uint64(10), manifest.Tick)
	assert.Equal(t, uint64(42), manifest.WALLSNCovered)
	assert.Equal(t, payloads[1], loaded[1])
	assert.Equal(t, payloads[2], loaded[2])
}

func TestSnapshotLoadLatestPicksHighestTick(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSnapshotStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(1, 1, map[int64][]byte{1: []byte("old")}))
	require.NoError(t, store.Save(99, 50, map[int64][]byte{1: []byte("new")}))

	manifest, loaded, err := store.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, uint64(99), manifest.Tick)
	assert.Equal(t, []byte("new"), loaded[1])
}

func TestSnapshotLoadLatestOnEmptyStoreReturnsNil(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSnapshotStore(dir)
	require.NoError(t, err)

	manifest, loaded, err := store.LoadLatest()
	require.NoError(t, err)
	assert.Nil(t, manifest)
	assert.Nil(t, loaded)
}
