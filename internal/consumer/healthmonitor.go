package consumer

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor periodically logs process resource usage, adapted from the
// teacher's systemHealthMonitor in internal/worker/enhanced_worker.go:
// memory and goroutine counts are the only two signals it checked that
// still apply once billing/db-specific checks are dropped.
type HealthMonitor struct {
	interval       time.Duration
	memThresholdMB float64
	goroutineLimit int
	logger         *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewHealthMonitor builds a monitor logging at interval, warning above the
// given memory (MB) and goroutine-count thresholds.
func NewHealthMonitor(interval time.Duration, memThresholdMB float64, goroutineLimit int, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		interval:       interval,
		memThresholdMB: memThresholdMB,
		goroutineLimit: goroutineLimit,
		logger:         logger,
	}
}

// Start begins the monitor loop.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(ctx)
}

func (m *HealthMonitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *HealthMonitor) check() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	memUsageMB := float64(memStats.Alloc) / 1024 / 1024
	if memUsageMB > m.memThresholdMB {
		m.logger.Warn("high memory usage detected",
			zap.Float64("memory_mb", memUsageMB),
			zap.Uint32("gc_count", memStats.NumGC))
	}

	goroutines := runtime.NumGoroutine()
	if goroutines > m.goroutineLimit {
		m.logger.Warn("high goroutine count detected", zap.Int("goroutine_count", goroutines))
	}

	m.logger.Debug("system health check",
		zap.Float64("memory_mb", memUsageMB),
		zap.Int("goroutines", goroutines),
		zap.Uint32("gc_cycles", memStats.NumGC))
}

// Stop halts the monitor loop.
func (m *HealthMonitor) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
}
