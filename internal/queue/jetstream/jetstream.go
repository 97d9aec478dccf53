// Package jetstream implements queue.Queue over NATS JetStream pull
// consumers. JetStream's AckWait, Msg.InProgress and MaxDeliver map onto the
// visibility-timeout/heartbeat/redelivery-count semantics spec.md §4.2
// describes in SQS terms. The connection setup (reconnect handling, logging
// hooks) follows the teacher's internal/queue/nats.Queue; the pull-consumer
// plumbing itself is new, since the teacher only used core NATS pub/sub and
// this bridge needs per-message visibility control that core NATS cannot
// provide.
package jetstream

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"taskbridge/internal/queue"
)

// messageIDHeader carries a client-assigned opaque message ID, since
// JetStream sequence numbers are stream-scoped rather than an SQS-style
// per-message handle a caller can quote back in PutItem/PutResult calls.
const messageIDHeader = "Bridge-Message-Id"

// messageGroupIDHeader carries the caller-supplied FIFO group id verbatim,
// since the subject only carries a hashed token of it (see
// groupSubjectToken) and the envelope needs the original value back.
const messageGroupIDHeader = "Bridge-Message-Group-Id"

// groupSubjectToken turns an arbitrary message-group id into a single safe
// NATS subject token, so a caller-supplied request_id (which may contain
// '.', spaces, or wildcards) can never corrupt the subject hierarchy. FIFO
// ordering is preserved because every message for the same group id hashes
// to the same token and therefore the same subject, which JetStream
// delivers to a pull consumer in publish order; spec.md promises ordering
// only within a group, never across groups, so a rare hash collision
// between two distinct group ids is harmless.
func groupSubjectToken(groupID string) string {
	h := fnv.New32a()
	h.Write([]byte(groupID))
	return fmt.Sprintf("g%08x", h.Sum32())
}

// Queue is a queue.Queue backed by a single JetStream stream and a durable
// pull consumer shared by a consumer group.
type Queue struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	sub           *nats.Subscription
	logger        *zap.Logger
	streamName    string
	subject       string
	ackWait       time.Duration
	maxDeliver    int
	durableName   string
}

// Options configures the stream and durable consumer created by New.
type Options struct {
	StreamName string
	// Subject is a prefix, not a literal subject: each FIFO group id is
	// hashed into its own token and published under
	// "{Subject}.{groupSubjectToken}", with the stream and pull consumer
	// both wildcard-matching "{Subject}.*" so one durable consumer still
	// receives every group while each group's own messages stay strictly
	// ordered relative to each other.
	Subject     string
	DurableName string
	AckWait     time.Duration
	MaxDeliver  int
}

// New connects to NATS, ensures the stream and durable pull consumer exist,
// and returns a ready-to-use Queue.
func New(natsURL string, opts Options, logger *zap.Logger) (*Queue, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("taskbridge"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}

	groupWildcard := opts.Subject + ".*"

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:      opts.StreamName,
		Subjects:  []string{groupWildcard},
		Retention: nats.WorkQueuePolicy,
	}); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		conn.Close()
		return nil, fmt.Errorf("add stream: %w", err)
	}

	sub, err := js.PullSubscribe(groupWildcard, opts.DurableName,
		nats.AckWait(opts.AckWait),
		nats.MaxDeliver(opts.MaxDeliver),
		nats.ManualAck(),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("pull subscribe: %w", err)
	}

	logger.Info("jetstream queue ready",
		zap.String("stream", opts.StreamName),
		zap.String("durable", opts.DurableName))

	return &Queue{
		conn:        conn,
		js:          js,
		sub:         sub,
		logger:      logger,
		streamName:  opts.StreamName,
		subject:     opts.Subject,
		ackWait:     opts.AckWait,
		maxDeliver:  opts.MaxDeliver,
		durableName: opts.DurableName,
	}, nil
}

// Receive fetches at most one message, waiting up to waitTime. It returns
// queue.ErrNoMessage on a clean empty-queue timeout.
func (q *Queue) Receive(ctx context.Context, waitTime time.Duration) (queue.Receipt, error) {
	// Fetch rejects MaxWait combined with Context, so the wait window is
	// carried by the context deadline instead.
	fetchCtx, cancel := context.WithTimeout(ctx, waitTime)
	defer cancel()
	msgs, err := q.sub.Fetch(1, nats.Context(fetchCtx))
	if err != nil {
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			return nil, queue.ErrNoMessage
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	if len(msgs) == 0 {
		return nil, queue.ErrNoMessage
	}

	msg := msgs[0]
	meta, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("read message metadata: %w", err)
	}

	messageID := msg.Header.Get(messageIDHeader)
	if messageID == "" {
		messageID = uuid.NewString()
	}

	return &receipt{
		msg: msg,
		envelope: queue.Envelope{
			MessageID:      messageID,
			MessageGroupID: msg.Header.Get(messageGroupIDHeader),
			Body:           msg.Data,
			ReceiveCount:   int(meta.NumDelivered),
		},
	}, nil
}

// Send publishes body under messageGroupID, assigning a new message ID.
// messageGroupID is mapped onto a subject token (see groupSubjectToken) so
// that every message in the same FIFO group lands on the same JetStream
// subject and is delivered in publish order; it is never used as the
// dedup header, which would make every message after the first in a group
// collide with it and be silently dropped.
func (q *Queue) Send(ctx context.Context, messageGroupID string, body []byte) (string, error) {
	messageID := uuid.NewString()
	subject := q.subject + "." + groupSubjectToken(messageGroupID)

	msg := nats.NewMsg(subject)
	msg.Data = body
	msg.Header.Set(messageIDHeader, messageID)
	msg.Header.Set(messageGroupIDHeader, messageGroupID)
	msg.Header.Set(nats.MsgIdHdr, messageID)

	if _, err := q.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return messageID, nil
}

// Ping checks connectivity, used by the /ready probe.
func (q *Queue) Ping(ctx context.Context) error {
	if q.conn.Status() != nats.CONNECTED {
		return fmt.Errorf("nats not connected, status: %v", q.conn.Status())
	}
	return nil
}

// Close releases the underlying connection.
func (q *Queue) Close() error {
	q.conn.Close()
	return nil
}

type receipt struct {
	msg      *nats.Msg
	envelope queue.Envelope
}

func (r *receipt) Envelope() queue.Envelope {
	return r.envelope
}

// Extend keeps the message invisible for another AckWait, the JetStream
// analogue of ChangeMessageVisibility. JetStream has no direct "set AckWait
// to X" primitive per message, so InProgress resets the ack-wait clock
// relative to now using the consumer's configured AckWait; d is not used.
func (r *receipt) Extend(ctx context.Context, d time.Duration) error {
	return r.msg.InProgress(nats.Context(ctx))
}

func (r *receipt) Delete(ctx context.Context) error {
	return r.msg.Ack(nats.Context(ctx))
}
