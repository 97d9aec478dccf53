// Package consumer implements the Consumer component (spec.md §4.4): the
// receive/compute/store loop that turns a queued request into a durable
// result, guarded by scale-in protection and a heartbeat while the compute
// function runs. The lifecycle state machine and non-blocking probe locking
// follow the teacher's internal/worker.Worker shape, generalized from a
// fixed SMS-send operation to an arbitrary compute function.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"taskbridge/internal/heartbeat"
	"taskbridge/internal/observability"
	"taskbridge/internal/queue"
	"taskbridge/internal/scalein"
	"taskbridge/internal/store"
)

// lifecycleState is the Consumer's run state, distinct from the
// processing-lock that guards a single in-flight message.
type lifecycleState int32

const (
	lifecycleStopped lifecycleState = iota
	lifecycleRunning
	lifecycleStopping
)

// Request is the wire envelope a Producer enqueues: a caller-supplied
// request ID for correlation plus an opaque payload for the compute
// function.
type Request struct {
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// ComputeFunc performs the actual unit of work for one request. Returning an
// UnretryableError records a terminal ERROR result and deletes the message;
// returning a RetryableError (or any other error) leaves the message for
// redelivery; a nil error records a SUCCESS result with the returned value.
type ComputeFunc func(ctx context.Context, messageID, requestID string, payload json.RawMessage) (any, error)

// Config holds the tunables from spec.md §4.4 / §9.
type Config struct {
	WaitTime                time.Duration
	VisibilityTimeout       time.Duration
	HeartbeatInterval       time.Duration
	HeartbeatStopTimeout    time.Duration
	MaxReceiveCount         int
	ResultTTLSeconds        int64
	EnableScaleInProtection bool
}

// Consumer pulls one message at a time from a Queue, records its progress in
// a Store, and runs a ComputeFunc under Heartbeat-extended visibility and
// (optionally) Scale-In Guard protection.
type Consumer struct {
	id          string
	q           queue.Queue
	store       *store.Client
	guard       *scalein.Guard
	compute     ComputeFunc
	cfg         Config
	logger      *zap.Logger
	metrics     *observability.Metrics

	lifecycle atomic.Int32
	stop      chan struct{}
	done      chan struct{}

	// processingLock is a size-1 buffered channel used as a non-blocking
	// try-lock: acquiring it must never block a /busy probe.
	processingLock chan struct{}
	mu             sync.Mutex
}

// New builds a Consumer. id identifies this instance in logs and metrics
// (e.g. for a Group running several in parallel).
func New(id string, q queue.Queue, storeClient *store.Client, guard *scalein.Guard, compute ComputeFunc, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Consumer {
	return &Consumer{
		id:             id,
		q:              q,
		store:          storeClient,
		guard:          guard,
		compute:        compute,
		cfg:            cfg,
		logger:         logger.With(zap.String("consumer_id", id)),
		metrics:        metrics,
		processingLock: make(chan struct{}, 1),
	}
}

// IsRunning reports the lifecycle state, used by the /health probe.
func (c *Consumer) IsRunning() bool {
	return lifecycleState(c.lifecycle.Load()) == lifecycleRunning
}

// IsProcessingMessage reports whether a message is currently being computed,
// without blocking, used by the /busy probe.
func (c *Consumer) IsProcessingMessage() bool {
	return len(c.processingLock) > 0
}

func (c *Consumer) tryAcquireProcessingLock() bool {
	select {
	case c.processingLock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Consumer) releaseProcessingLock() {
	select {
	case <-c.processingLock:
	default:
	}
}

// Start begins the receive loop in a background goroutine. It is idempotent.
func (c *Consumer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lifecycleState(c.lifecycle.Load()) != lifecycleStopped {
		return
	}
	c.lifecycle.Store(int32(lifecycleRunning))
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.loop(ctx)
}

// Stop signals the receive loop to exit and waits up to timeout for any
// in-flight message to finish processing.
func (c *Consumer) Stop(timeout time.Duration) {
	c.mu.Lock()
	if lifecycleState(c.lifecycle.Load()) != lifecycleRunning {
		c.mu.Unlock()
		return
	}
	c.lifecycle.Store(int32(lifecycleStopping))
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)

	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("consumer stop timed out waiting for in-flight message")
	}

	c.lifecycle.Store(int32(lifecycleStopped))
}

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.done)
	c.logger.Info("consumer started")

	for {
		select {
		case <-c.stop:
			c.logger.Info("consumer stopping")
			return
		case <-ctx.Done():
			return
		default:
		}

		receipt, err := c.q.Receive(ctx, c.cfg.WaitTime)
		if err != nil {
			if !errors.Is(err, queue.ErrNoMessage) {
				c.logger.Error("receive failed", zap.Error(err))
			}
			continue
		}

		c.processMessageGuarded(ctx, receipt)
	}
}

// processMessageGuarded wraps processMessage with the processing-lock so
// that a concurrent /busy probe never blocks behind it.
func (c *Consumer) processMessageGuarded(ctx context.Context, receipt queue.Receipt) {
	if !c.tryAcquireProcessingLock() {
		// A prior message is somehow still marked in-flight; this should not
		// happen for a single sequential Consumer, but never block here.
		c.logger.Error("processing lock already held, skipping message",
			zap.String("message_id", receipt.Envelope().MessageID))
		return
	}
	defer c.releaseProcessingLock()

	c.processMessage(ctx, receipt)
}

func (c *Consumer) processMessage(ctx context.Context, receipt queue.Receipt) {
	env := receipt.Envelope()
	start := time.Now()

	var req Request
	if err := json.Unmarshal(env.Body, &req); err != nil {
		c.logger.Error("message body is not a valid request envelope",
			zap.String("message_id", env.MessageID), zap.Error(err))
		c.finishUnretryable(ctx, receipt, nil, fmt.Errorf("invalid request envelope: %w", err))
		return
	}

	if env.ReceiveCount > c.cfg.MaxReceiveCount {
		c.logger.Error("message exceeded max receive count",
			zap.String("message_id", env.MessageID), zap.Int("receive_count", env.ReceiveCount))
		c.finishUnretryable(ctx, receipt, &req.RequestID, fmt.Errorf("exceeded max receive count (%d)", c.cfg.MaxReceiveCount))
		return
	}

	if err := c.store.PutStatus(ctx, store.StatusInProgress, env.MessageID, store.PutStatusOptions{
		RequestID:  &req.RequestID,
		TTLSeconds: c.cfg.ResultTTLSeconds,
	}); err != nil {
		c.logger.Error("failed to mark message in-progress, leaving on queue for redelivery",
			zap.String("message_id", env.MessageID), zap.Error(err))
		c.metrics.MessagesFailed.Add(ctx, 1)
		return
	}

	if c.cfg.EnableScaleInProtection {
		if err := c.guard.Acquire(ctx); err != nil {
			c.logger.Error("failed to acquire scale-in protection", zap.Error(err))
		}
		defer func() {
			if err := c.guard.Release(ctx); err != nil {
				c.logger.Error("failed to release scale-in protection", zap.Error(err))
			}
		}()
	}

	hb, err := heartbeat.New(c.cfg.HeartbeatInterval, c.cfg.VisibilityTimeout, c.logger, c.metrics)
	if err != nil {
		c.logger.Error("invalid heartbeat configuration", zap.Error(err))
	} else {
		hb.Start(ctx, receipt)
		defer hb.Stop(c.cfg.HeartbeatStopTimeout)
	}

	result, computeErr := c.compute(ctx, env.MessageID, req.RequestID, req.Payload)
	duration := time.Since(start)
	c.metrics.ProcessingLatency.Record(ctx, duration.Seconds())

	if computeErr == nil {
		c.finishSuccess(ctx, receipt, &req.RequestID, result)
		return
	}

	var unretryable *UnretryableError
	if errors.As(computeErr, &unretryable) {
		c.finishUnretryable(ctx, receipt, &req.RequestID, computeErr)
		return
	}

	c.logger.Warn("compute failed with retryable error, leaving message for redelivery",
		zap.String("message_id", env.MessageID), zap.Error(computeErr))
	c.metrics.MessagesFailed.Add(ctx, 1)
}

func (c *Consumer) finishSuccess(ctx context.Context, receipt queue.Receipt, requestID *string, result any) {
	env := receipt.Envelope()
	if err := c.store.PutResult(ctx, env.MessageID, result, requestID, nil); err != nil {
		c.logger.Error("failed to persist result", zap.String("message_id", env.MessageID), zap.Error(err))
	}
	if err := receipt.Delete(ctx); err != nil {
		c.logger.Error("failed to delete message", zap.String("message_id", env.MessageID), zap.Error(err))
	}
	c.metrics.MessagesProcessed.Add(ctx, 1)
}

func (c *Consumer) finishUnretryable(ctx context.Context, receipt queue.Receipt, requestID *string, exp error) {
	env := receipt.Envelope()
	if err := c.store.PutError(ctx, env.MessageID, exp, requestID, nil); err != nil {
		c.logger.Error("failed to persist error result", zap.String("message_id", env.MessageID), zap.Error(err))
	}
	if err := receipt.Delete(ctx); err != nil {
		c.logger.Error("failed to delete message", zap.String("message_id", env.MessageID), zap.Error(err))
	}
	c.metrics.MessagesFailed.Add(ctx, 1)
}
