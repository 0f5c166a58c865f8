package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendThenReadAfterReturnsRecordsInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0)
	require.NoError(t, err)

	lsn1, err := w.Append(1, KindInput, []byte("order-1"))
	require.NoError(t, err)
	lsn2, err := w.Append(1, KindEvent, []byte("event-1"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, uint64(1), lsn1)
	assert.Equal(t, uint64(2), lsn2)

	r := NewReader(dir)
	recs, err := r.ReadAfter(0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []byte("order-1"), recs[0].Payload)
	assert.Equal(t, []byte("event-1"), recs[1].Payload)
}

func TestReadAfterSkipsAlreadyCoveredRecords(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0)
	require.NoError(t, err)
	_, err = w.Append(1, KindInput, []byte("a"))
	require.NoError(t, err)
	_, err = w.Append(1, KindInput, []byte("b"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(dir)
	recs, err := r.ReadAfter(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("b"), recs[0].Payload)
}

func TestReadAfterDetectsChecksumCorruption(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0)
	require.NoError(t, err)
	_, err = w.Append(1, KindInput, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := dirEntries(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	corruptLastByte(t, entries[0])

	r := NewReader(dir)
	_, err = r.ReadAfter(0)
	require.Error(t, err)
}

func TestResumeLSNContinuesNumbering(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0)
	require.NoError(t, err)
	_, err = w.Append(1, KindInput, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := NewWriter(dir, 1)
	require.NoError(t, err)
	lsn, err := w2.Append(2, KindInput, []byte("b"))
	require.NoError(t, err)
	require.NoError(t, w2.Close())
	assert.Equal(t, uint64(2), lsn)
}
