package consumer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskbridge/internal/observability"
	"taskbridge/internal/queue"
	"taskbridge/internal/scalein"
	"taskbridge/internal/store"
)

// Group runs a fixed number of independent, sequential Consumer instances
// sharing one Queue and Store, generalizing the teacher's
// internal/worker.WorkerPool fixed-size pool from a shared job channel to
// independent receive loops (JetStream's pull-consumer fan-out already
// distributes messages across them).
type Group struct {
	consumers []*Consumer
	logger    *zap.Logger
}

// NewGroup builds size Consumers, each named "<id>-N".
func NewGroup(id string, size int, q queue.Queue, storeClient *store.Client, guard *scalein.Guard, compute ComputeFunc, cfg Config, logger *zap.Logger, metrics *observability.Metrics) (*Group, error) {
	if size < 1 {
		return nil, fmt.Errorf("consumer group size must be at least 1, got %d", size)
	}

	consumers := make([]*Consumer, size)
	for i := 0; i < size; i++ {
		consumers[i] = New(fmt.Sprintf("%s-%d", id, i), q, storeClient, guard, compute, cfg, logger, metrics)
	}
	return &Group{consumers: consumers, logger: logger}, nil
}

// Start starts every consumer in the group.
func (g *Group) Start(ctx context.Context) {
	g.logger.Info("starting consumer group", zap.Int("size", len(g.consumers)))
	for _, c := range g.consumers {
		c.Start(ctx)
	}
}

// Stop stops every consumer, each bounded by timeout.
func (g *Group) Stop(timeout time.Duration) {
	for _, c := range g.consumers {
		c.Stop(timeout)
	}
}

// IsRunning reports whether every consumer in the group is running.
func (g *Group) IsRunning() bool {
	for _, c := range g.consumers {
		if !c.IsRunning() {
			return false
		}
	}
	return true
}

// IsBusy reports whether any consumer in the group is processing a message.
func (g *Group) IsBusy() bool {
	for _, c := range g.consumers {
		if c.IsProcessingMessage() {
			return true
		}
	}
	return false
}
