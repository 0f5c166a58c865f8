// Command exchange is the matching core's process entrypoint: composes
// config, logger, coordinator, router, clock, execution manager and the
// operator/metrics HTTP surfaces behind go.uber.org/fx, the same
// dependency-injection shape the teacher's cmd/marketdata/main.go uses
// (fx.Supply the logger, fx.Provide the components, fx.Invoke the
// lifecycle-bound servers).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/account"
	"github.com/waiver-exchange/core/internal/clock"
	"github.com/waiver-exchange/core/internal/config"
	"github.com/waiver-exchange/core/internal/coordinator"
	"github.com/waiver-exchange/core/internal/engine"
	"github.com/waiver-exchange/core/internal/execution"
	"github.com/waiver-exchange/core/internal/marketdata"
	"github.com/waiver-exchange/core/internal/metrics"
	"github.com/waiver-exchange/core/internal/operator"
	"github.com/waiver-exchange/core/internal/router"
	"github.com/waiver-exchange/core/internal/types"
	"github.com/waiver-exchange/core/internal/wal"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("exchange: load config: %v\n", err)
		return
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("exchange: build logger: %v\n", err)
		return
	}
	defer logger.Sync()

	if err := config.DefaultRuntimeTuning().Apply(logger); err != nil {
		logger.Fatal("apply runtime tuning", zap.Error(err))
	}

	app := fx.New(
		fx.Supply(logger, cfg),
		fx.Provide(
			newCoordinator,
			newSnapshotStore,
			newWALWriter,
			newAccountClient,
			newBroadcaster,
			newRouter,
			newHalter,
			newExecutionManager,
			newClock,
		),
		metrics.Module,
		fx.Invoke(restoreFromSnapshot, runClockLoop, runOperatorServer),
	)
	app.Run()
}

func selfMatchPolicyFromString(s string) types.SelfMatchPolicy {
	if s == "CancelOldest" {
		return types.SelfMatchCancelOldest
	}
	return types.SelfMatchReject
}

func newCoordinator(cfg *config.Config, logger *zap.Logger) (*coordinator.Coordinator, error) {
	factory := func(symbolID int64) engine.Config {
		return engine.Config{
			SymbolID:         symbolID,
			SelfMatchPolicy:  selfMatchPolicyFromString(cfg.Engine.SelfMatchPolicy),
			PriceBandBps:     cfg.Engine.PriceBandBpsDefault,
			BookCapacityHint: int(cfg.Router.InboxCapacityPerSymbol),
		}
	}
	return coordinator.New(cfg.Workers.N, factory, logger)
}

func newSnapshotStore(cfg *config.Config) (*wal.SnapshotStore, error) {
	return wal.NewSnapshotStore(cfg.Persistence.SnapshotDir)
}

func newWALWriter(cfg *config.Config, store *wal.SnapshotStore, logger *zap.Logger) (*wal.Writer, error) {
	resumeLSN := uint64(0)
	if manifest, _, err := store.LoadLatest(); err == nil && manifest != nil {
		resumeLSN = manifest.WALLSNCovered
	} else if err != nil {
		logger.Warn("no prior snapshot to resume from", zap.Error(err))
	}
	// Records appended after the snapshot are still on disk; numbering
	// continues after the last of them so no LSN is issued twice.
	tail, err := wal.NewReader(cfg.Persistence.WALDir).ReadAfter(resumeLSN)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("exchange: scan wal tail: %w", err)
	}
	if n := len(tail); n > 0 {
		resumeLSN = tail[n-1].LSN
	}
	return wal.NewWriter(cfg.Persistence.WALDir, resumeLSN)
}

func newAccountClient(cfg *config.Config) account.Client {
	return account.NewHTTPClient(cfg.AccountService.BaseURL)
}

func newBroadcaster(cfg *config.Config, logger *zap.Logger) (marketdata.Broadcaster, error) {
	if cfg.MarketData.NATSURL == "" {
		return marketdata.NewInMemory(logger), nil
	}
	return marketdata.NewNATS(cfg.MarketData.NATSURL, logger)
}

func newRouter(cfg *config.Config, coord *coordinator.Coordinator, registry *metrics.Registry, logger *zap.Logger) *router.Router {
	r := router.New(cfg.Workers.N, cfg.Router.InboxCapacityPerSymbol, coord, logger)
	r.SetMetrics(registry)
	return r
}

func newHalter(coord *coordinator.Coordinator) execution.Halter { return coord }

func newExecutionManager(accounts account.Client, w *wal.Writer, broadcaster marketdata.Broadcaster, halter execution.Halter, registry *metrics.Registry, logger *zap.Logger) *execution.Manager {
	mgr := execution.NewManager(accounts, w, broadcaster, halter, logger)
	mgr.SetMetrics(registry)
	return mgr
}

func newClock(coord *coordinator.Coordinator, r *router.Router, mgr *execution.Manager, w *wal.Writer, registry *metrics.Registry, logger *zap.Logger) *clock.Clock {
	clk := clock.New(coord, r, mgr, w, 0, logger)
	clk.SetMetrics(registry)
	return clk
}

// restoreFromSnapshot rebuilds every snapshotted symbol's engine state at
// startup (spec §4.6: "on start, locate the latest snapshot S at tick T;
// restore all engines"). Full WAL-tail replay beyond the snapshot
// watermark is intentionally not performed here — see DESIGN.md's Open
// Question resolution on recovery scope.
func restoreFromSnapshot(store *wal.SnapshotStore, coord *coordinator.Coordinator, logger *zap.Logger) error {
	manifest, symbols, err := store.LoadLatest()
	if err != nil {
		return fmt.Errorf("exchange: load latest snapshot: %w", err)
	}
	if manifest == nil {
		logger.Info("no prior snapshot found, starting from a clean state")
		return nil
	}
	for symbolID, payload := range symbols {
		if err := coord.Restore(symbolID, payload); err != nil {
			return fmt.Errorf("exchange: restore symbol %d: %w", symbolID, err)
		}
	}
	logger.Info("restored from snapshot", zap.Uint64("tick", manifest.Tick), zap.Int("symbols", len(symbols)))
	return nil
}

// runClockLoop drives the simulation clock continuously on a background
// goroutine, stopping on fx shutdown. Ticks are not wall-clock bound
// (spec §4.4) — this loop advances as fast as the slowest worker allows.
func runClockLoop(lc fx.Lifecycle, clk *clock.Clock, coord *coordinator.Coordinator, w *wal.Writer, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					default:
					}
					if err := clk.Advance(ctx); err != nil {
						if ctx.Err() == nil {
							logger.Error("clock advance failed", zap.Error(err))
						}
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			coord.Release()
			return w.Close()
		},
	})
}

func runOperatorServer(lc fx.Lifecycle, cfg *config.Config, coord *coordinator.Coordinator, clk *clock.Clock, store *wal.SnapshotStore, w *wal.Writer, registry *metrics.Registry, logger *zap.Logger) error {
	srv, err := operator.NewServer(cfg.Operator.Addr, cfg.Operator.BearerToken, cfg.Operator.RateLimit, coord, clk, store, w, logger)
	if err != nil {
		return fmt.Errorf("exchange: build operator server: %w", err)
	}
	srv.SetMetrics(registry)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			srv.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
	return nil
}
