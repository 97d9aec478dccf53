package jetstream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// maxDeliveriesAdvisorySubjectPattern is the subject of the JetStream
// advisory (filled in with stream and consumer names) NATS publishes when
// a message exhausts MaxDeliver, the JetStream analogue of an SQS redrive to
// a dead-letter queue.
const maxDeliveriesAdvisorySubjectPattern = "$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES.%s.%s"

// maxDeliveriesAdvisory mirrors the fields NATS publishes on the advisory
// subject; only the ones the observer needs are declared.
type maxDeliveriesAdvisory struct {
	Stream     string    `json:"stream"`
	Consumer   string    `json:"consumer"`
	StreamSeq  uint64    `json:"stream_seq"`
	Deliveries uint64    `json:"deliveries"`
	Time       time.Time `json:"time"`
}

// DLQObserver subscribes to JetStream's max-deliveries advisory, grounded on
// the teacher's SubscribeDLQJobs: a fire-and-forget subscription that hands
// each dead-lettered message to a handler for logging/alerting.
type DLQObserver struct {
	conn   *nats.Conn
	logger *zap.Logger
	sub    *nats.Subscription
}

// NewDLQObserver attaches to an existing connection; it does not own it.
func NewDLQObserver(conn *nats.Conn, logger *zap.Logger) *DLQObserver {
	return &DLQObserver{conn: conn, logger: logger}
}

// Subscribe starts observing dead-lettered messages for streamName/durableName,
// invoking handler with the stream sequence and total delivery count.
func (o *DLQObserver) Subscribe(streamName, durableName string, handler func(streamSeq uint64, deliveries uint64, at time.Time)) error {
	subject := fmt.Sprintf(maxDeliveriesAdvisorySubjectPattern, streamName, durableName)

	sub, err := o.conn.Subscribe(subject, func(msg *nats.Msg) {
		var advisory maxDeliveriesAdvisory
		if err := json.Unmarshal(msg.Data, &advisory); err != nil {
			o.logger.Error("failed to unmarshal max-deliveries advisory", zap.Error(err))
			return
		}

		o.logger.Warn("message exhausted max deliveries",
			zap.String("stream", advisory.Stream),
			zap.String("consumer", advisory.Consumer),
			zap.Uint64("stream_seq", advisory.StreamSeq),
			zap.Uint64("deliveries", advisory.Deliveries))

		handler(advisory.StreamSeq, advisory.Deliveries, advisory.Time)
	})
	if err != nil {
		return fmt.Errorf("subscribe to dlq advisory: %w", err)
	}

	o.sub = sub
	return nil
}

// Close stops observing.
func (o *DLQObserver) Close() error {
	if o.sub == nil {
		return nil
	}
	return o.sub.Unsubscribe()
}
