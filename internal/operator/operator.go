// Package operator implements the operator HTTP surface SPEC_FULL.md
// §4.7 adds: start/stop a symbol, force a snapshot, query engine state,
// halt a symbol. Built on gin-gonic/gin + gin-contrib/cors, the same
// stack the teacher's internal/gateway/server.go uses, and wrapped with
// ulule/limiter/v3 the way the teacher's
// internal/api/middleware/security.go rate-limits its own admin routes.
// This is an operator surface, not the end-user session surface — auth
// is a single static bearer token from config, never JWT/OAuth.
package operator

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/coordinator"
	"github.com/waiver-exchange/core/internal/metrics"
	"github.com/waiver-exchange/core/internal/wal"
)

// WALPosition reports the WAL's last durable LSN, so a forced snapshot's
// manifest records the correct wal_lsn_covered watermark (spec §4.6).
type WALPosition interface {
	LastLSN() uint64
}

// Clock is the subset of *clock.Clock the operator surface needs; kept
// as an interface so tests can stub it without spinning up a real tick
// loop.
type Clock interface {
	CurrentTick() uint64
}

// Server is the operator HTTP surface.
type Server struct {
	router    *gin.Engine
	http      *http.Server
	coord     *coordinator.Coordinator
	clock     Clock
	snapshots *wal.SnapshotStore
	walPos    WALPosition
	metrics   *metrics.Registry
	logger    *zap.Logger
}

// SetMetrics attaches a metrics registry for snapshot-duration observation.
// Optional — a Server with no registry attached simply skips reporting.
func (s *Server) SetMetrics(m *metrics.Registry) { s.metrics = m }

// NewServer builds the operator router: bearer-token auth and a rate
// limiter in front of every route, matching the teacher's security
// middleware ordering (recovery, then auth, then rate limit).
func NewServer(addr, bearerToken, rateLimitFormatted string, coord *coordinator.Coordinator, clk Clock, snapshots *wal.SnapshotStore, walPos WALPosition, logger *zap.Logger) (*Server, error) {
	rate, err := limiter.NewRateFromFormatted(rateLimitFormatted)
	if err != nil {
		return nil, err
	}
	store := memory.NewStore()
	rateLimiter := limiter.New(store, rate)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{router: router, coord: coord, clock: clk, snapshots: snapshots, walPos: walPos, logger: logger}

	ops := router.Group("/operator")
	ops.Use(bearerAuth(bearerToken), mgin.NewMiddleware(rateLimiter))
	ops.POST("/symbols/:symbol_id/start", s.handleStart)
	ops.POST("/symbols/:symbol_id/stop", s.handleStop)
	ops.POST("/symbols/:symbol_id/halt", s.handleHalt)
	ops.GET("/symbols/:symbol_id/state", s.handleState)
	ops.POST("/snapshot", s.handleForceSnapshot)

	s.http = &http.Server{Addr: addr, Handler: router}
	return s, nil
}

func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("Authorization")
		if got != "Bearer "+token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing operator token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Start runs the operator HTTP server in the background.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("operator server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the operator HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStart(c *gin.Context) {
	symbolID, ok := parseSymbolID(c)
	if !ok {
		return
	}
	if _, err := s.coord.Ensure(symbolID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol_id": symbolID, "status": "started"})
}

func (s *Server) handleStop(c *gin.Context) {
	symbolID, ok := parseSymbolID(c)
	if !ok {
		return
	}
	if err := s.coord.Stop(symbolID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol_id": symbolID, "status": "draining"})
}

func (s *Server) handleHalt(c *gin.Context) {
	symbolID, ok := parseSymbolID(c)
	if !ok {
		return
	}
	ev, err := s.coord.Halt(symbolID, s.clock.CurrentTick())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol_id": symbolID, "status": "halted", "event": ev})
}

func (s *Server) handleState(c *gin.Context) {
	symbolID, ok := parseSymbolID(c)
	if !ok {
		return
	}
	eng, found := s.coord.Lookup(symbolID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no engine for symbol"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol_id": symbolID,
		"state":     eng.State().String(),
		"tick":      s.clock.CurrentTick(),
	})
}

func (s *Server) handleForceSnapshot(c *gin.Context) {
	start := time.Now()
	symbolSnapshots, err := s.coord.SnapshotAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	tick := s.clock.CurrentTick()
	if err := s.snapshots.Save(tick, s.walPos.LastLSN(), symbolSnapshots); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.metrics != nil {
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	}
	c.JSON(http.StatusAccepted, gin.H{"symbols_snapshotted": len(symbolSnapshots), "tick": tick})
}

func parseSymbolID(c *gin.Context) (int64, bool) {
	symbolID, err := strconv.ParseInt(c.Param("symbol_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol_id must be an integer"})
		return 0, false
	}
	return symbolID, true
}
