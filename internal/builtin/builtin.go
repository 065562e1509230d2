// Package builtin provides ready-made health checks for the host
// process itself.
package builtin

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	"github.com/stableagents/sentinel/internal/types"
)

// RuntimeMemoryCheck reports Go heap usage and goroutine count.
func RuntimeMemoryCheck(_ context.Context) ([]types.HealthMetric, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return []types.HealthMetric{
		types.NumberMetric("heap_alloc_mb", float64(ms.HeapAlloc)/(1024*1024)),
		types.NumberMetric("heap_objects", float64(ms.HeapObjects)),
		types.NumberMetric("goroutines", float64(runtime.NumGoroutine())),
		types.NumberMetric("gc_pause_total_ms", float64(ms.PauseTotalNs)/1e6),
	}, nil
}

// RuntimeMemoryThresholds returns sane defaults for the runtime check.
// heapLimitMB bounds heap_alloc_mb at medium severity.
func RuntimeMemoryThresholds(heapLimitMB float64) []types.Threshold {
	maxGoroutines := 10000.0
	return []types.Threshold{
		{MetricName: "heap_alloc_mb", Max: &heapLimitMB, Severity: types.SeverityMedium},
		{MetricName: "goroutines", Max: &maxGoroutines, Severity: types.SeverityHigh},
	}
}

// DatabasePingCheck verifies a database handle responds, reporting the
// round-trip time in milliseconds.
func DatabasePingCheck(db *sql.DB) types.CheckFunc {
	return func(ctx context.Context) ([]types.HealthMetric, error) {
		start := time.Now()
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("database ping: %w", err)
		}
		elapsed := float64(time.Since(start).Microseconds()) / 1000

		return []types.HealthMetric{
			types.NumberMetric("ping_ms", elapsed),
			types.NumberMetric("open_connections", float64(db.Stats().OpenConnections)),
		}, nil
	}
}

// DatabasePingThresholds flags slow pings at low severity.
func DatabasePingThresholds(maxPingMS float64) []types.Threshold {
	return []types.Threshold{
		{MetricName: "ping_ms", Max: &maxPingMS, Severity: types.SeverityLow},
	}
}
