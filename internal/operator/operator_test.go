package operator

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/coordinator"
	"github.com/waiver-exchange/core/internal/engine"
	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/wal"
)

type fixedClock struct{ tick uint64 }

func (f fixedClock) CurrentTick() uint64 { return f.tick }

type fixedWALPosition struct{ lsn uint64 }

func (f fixedWALPosition) LastLSN() uint64 { return f.lsn }

func newTestServer(t *testing.T) (*Server, *coordinator.Coordinator) {
	t.Helper()
	factory := func(symbolID int64) engine.Config {
		return engine.Config{SymbolID: symbolID, SelfMatchPolicy: types.SelfMatchReject, PriceBandBps: 3000, BookCapacityHint: 16}
	}
	coord, err := coordinator.New(2, factory, zap.NewNop())
	require.NoError(t, err)

	store, err := wal.NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	srv, err := NewServer(":0", "test-token", "100-M", coord, fixedClock{tick: 7}, store, fixedWALPosition{lsn: 42}, zap.NewNop())
	require.NoError(t, err)
	return srv, coord
}

func TestStartRequiresBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/operator/symbols/764/start", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartThenStateRoundTrips(t *testing.T) {
	srv, _ := newTestServer(t)

	start := httptest.NewRequest(http.MethodPost, "/operator/symbols/764/start", nil)
	start.Header.Set("Authorization", "Bearer test-token")
	startRec := httptest.NewRecorder()
	srv.router.ServeHTTP(startRec, start)
	require.Equal(t, http.StatusOK, startRec.Code)

	state := httptest.NewRequest(http.MethodGet, "/operator/symbols/764/state", nil)
	state.Header.Set("Authorization", "Bearer test-token")
	stateRec := httptest.NewRecorder()
	srv.router.ServeHTTP(stateRec, state)
	require.Equal(t, http.StatusOK, stateRec.Code)
	assert.Contains(t, stateRec.Body.String(), `"state":"Active"`)
}

func TestStateOnUnknownSymbolReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/operator/symbols/1/state", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHaltTransitionsEngineToHalted(t *testing.T) {
	srv, coord := newTestServer(t)
	_, err := coord.Ensure(764)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/operator/symbols/764/halt", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	eng, found := coord.Lookup(764)
	require.True(t, found)
	assert.Equal(t, types.StateHalted, eng.State())
}

func TestForceSnapshotPersistsCurrentState(t *testing.T) {
	srv, coord := newTestServer(t)
	_, err := coord.Ensure(764)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/operator/snapshot", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbols_snapshotted":1`)
}
