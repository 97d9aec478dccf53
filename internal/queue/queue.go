// Package queue defines the transport-agnostic Message Queue contract
// (spec.md §4.2): FIFO delivery within a message group, receipt-scoped
// visibility extension, and explicit deletion on successful processing.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrNoMessage is returned by Receive when no message arrived within the
// wait window, the queue-empty case from spec.md §4.2/§7.
var ErrNoMessage = errors.New("queue: no message available")

// Envelope is the payload and routing metadata for one in-flight message.
type Envelope struct {
	MessageID      string
	MessageGroupID string
	Body           []byte
	ReceiveCount   int
}

// Receipt represents a single delivery of an Envelope. All operations are
// scoped to that delivery; a Receipt from a redelivered message is distinct
// from the one before it, matching SQS receipt-handle semantics.
type Receipt interface {
	Envelope() Envelope
	// Extend pushes the message's visibility timeout out by d from now.
	Extend(ctx context.Context, d time.Duration) error
	// Delete acknowledges the message, removing it from the queue.
	Delete(ctx context.Context) error
}

// Queue is the Message Queue contract a Consumer and Producer share.
type Queue interface {
	// Receive waits up to waitTime for a single message. It returns
	// ErrNoMessage on a clean empty-queue timeout.
	Receive(ctx context.Context, waitTime time.Duration) (Receipt, error)
	// Send enqueues body under messageGroupID, returning the assigned
	// message ID.
	Send(ctx context.Context, messageGroupID string, body []byte) (string, error)
	// Ping checks connectivity, used by the /ready probe.
	Ping(ctx context.Context) error
	// Close releases underlying connections.
	Close() error
}
