package config

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// RuntimeTuning configures the Go runtime for the matching core's hot
// path (spec §5: "inside the core hot path there are no locks and no
// allocations"): GC pressure from the ambient stack (router rings,
// engine events, WAL frames) still needs a GC policy tuned to avoid
// pausing a worker mid-tick.
type RuntimeTuning struct {
	GCPercent          int
	MemoryLimitBytes   int64
	EnableMemoryLimit  bool
	EnableGCMonitoring bool
	GCStatsInterval    time.Duration
}

// DefaultRuntimeTuning runs GC less aggressively than stock defaults,
// trading memory headroom for fewer stop-the-world pauses per tick.
func DefaultRuntimeTuning() RuntimeTuning {
	return RuntimeTuning{
		GCPercent:          200,
		MemoryLimitBytes:   2 << 30, // 2GB
		EnableMemoryLimit:  true,
		EnableGCMonitoring: true,
		GCStatsInterval:    30 * time.Second,
	}
}

// Apply installs the tuning globally for the process. Call once at
// startup before the clock begins advancing.
func (t RuntimeTuning) Apply(logger *zap.Logger) error {
	if err := Validate(t); err != nil {
		return err
	}
	debug.SetGCPercent(t.GCPercent)
	if t.EnableMemoryLimit {
		debug.SetMemoryLimit(t.MemoryLimitBytes)
	}
	logger.Info("runtime tuning applied",
		zap.Int("gc_percent", t.GCPercent),
		zap.Bool("memory_limit_enabled", t.EnableMemoryLimit),
		zap.Int64("memory_limit_bytes", t.MemoryLimitBytes),
	)
	if t.EnableGCMonitoring {
		go monitorGCStats(logger, t.GCStatsInterval)
	}
	return nil
}

// Validate rejects an obviously broken tuning before it reaches the
// runtime (a zero GCStatsInterval would make time.NewTicker panic in the
// monitor goroutine).
func Validate(t RuntimeTuning) error {
	if t.GCPercent < 50 || t.GCPercent > 500 {
		return fmt.Errorf("config: gc_percent must be between 50 and 500, got %d", t.GCPercent)
	}
	if t.EnableMemoryLimit && t.MemoryLimitBytes <= 0 {
		return fmt.Errorf("config: memory_limit must be positive when enabled")
	}
	if t.EnableGCMonitoring && t.GCStatsInterval <= 0 {
		return fmt.Errorf("config: gc_stats_interval must be positive when monitoring is enabled")
	}
	return nil
}

func monitorGCStats(logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last runtime.MemStats
	runtime.ReadMemStats(&last)

	for range ticker.C {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)

		gcCount := stats.NumGC - last.NumGC
		if gcCount > 0 {
			var totalPause uint64
			for i := uint32(0); i < gcCount && i < 256; i++ {
				idx := (stats.NumGC - 1 - i) % 256
				totalPause += stats.PauseNs[idx]
			}
			avgPause := time.Duration(totalPause / uint64(gcCount))
			logger.Debug("gc stats",
				zap.Uint32("count", gcCount),
				zap.Duration("avg_pause", avgPause),
				zap.Uint64("heap_mb", stats.HeapAlloc/1024/1024),
				zap.Uint64("next_gc_mb", stats.NextGC/1024/1024),
			)
		}
		last = stats
	}
}
