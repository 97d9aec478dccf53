// Package heartbeat keeps an in-flight message invisible to other consumers
// while its compute function is still running, extending the underlying
// queue receipt on a fixed interval. The start/stop/loop shape follows the
// teacher's internal/worker.Worker background goroutines (stop channel plus
// done channel, bounded shutdown wait).
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskbridge/internal/observability"
	"taskbridge/internal/queue"
)

// state is the Heartbeat's internal lifecycle state.
type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

// failureRetryInterval is how fast the loop retries after a failed
// extension, shrunk well below the normal interval so a transient backend
// blip doesn't let the receipt's visibility lapse.
const failureRetryInterval = 100 * time.Millisecond

// Heartbeat extends a Receipt's visibility timeout on a fixed interval for
// as long as a single compute invocation runs.
type Heartbeat struct {
	logger             *zap.Logger
	metrics            *observability.Metrics
	interval           time.Duration
	visibilityTimeout  time.Duration

	mu    sync.Mutex
	st    state
	stop  chan struct{}
	done  chan struct{}
}

// New builds a Heartbeat. interval must be comfortably shorter than
// visibilityTimeout so an extension always lands before the receipt would
// otherwise become visible again; New rejects configurations that violate
// that margin.
func New(interval, visibilityTimeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) (*Heartbeat, error) {
	if interval >= visibilityTimeout-time.Second {
		return nil, fmt.Errorf("heartbeat: interval %s must be more than 1s shorter than visibility timeout %s", interval, visibilityTimeout)
	}
	return &Heartbeat{
		logger:            logger,
		metrics:           metrics,
		interval:          interval,
		visibilityTimeout: visibilityTimeout,
		st:                stateIdle,
	}, nil
}

// Start begins extending receipt's visibility until Stop is called or ctx is
// canceled. It is idempotent: calling Start while already running is a no-op.
func (h *Heartbeat) Start(ctx context.Context, receipt queue.Receipt) {
	h.mu.Lock()
	if h.st != stateIdle {
		h.mu.Unlock()
		return
	}
	h.st = stateRunning
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	h.mu.Unlock()

	go h.run(ctx, receipt)
}

func (h *Heartbeat) run(ctx context.Context, receipt queue.Receipt) {
	defer close(h.done)

	wait := h.interval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-h.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := receipt.Extend(ctx, h.visibilityTimeout); err != nil {
			h.logger.Warn("heartbeat extension failed",
				zap.String("message_id", receipt.Envelope().MessageID),
				zap.Error(err))
			h.metrics.HeartbeatFailures.Add(ctx, 1)
			wait = failureRetryInterval
			continue
		}

		h.metrics.HeartbeatExtends.Add(ctx, 1)
		wait = h.interval
	}
}

// Stop signals the heartbeat loop to exit and waits up to timeout for it to
// do so. It is idempotent: calling Stop while already idle is a no-op.
func (h *Heartbeat) Stop(timeout time.Duration) {
	h.mu.Lock()
	if h.st != stateRunning {
		h.mu.Unlock()
		return
	}
	h.st = stateStopping
	stop, done := h.stop, h.done
	h.mu.Unlock()

	close(stop)

	select {
	case <-done:
	case <-time.After(timeout):
		h.logger.Warn("heartbeat stop timed out")
	}

	h.mu.Lock()
	h.st = stateIdle
	h.mu.Unlock()
}

// IsRunning reports whether the loop is currently active.
func (h *Heartbeat) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.st == stateRunning
}
