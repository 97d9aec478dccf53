// Package producer implements the Producer component (spec.md §4.5):
// submit a request onto the Message Queue and, once submitted, either hand
// back a correlation handle immediately or block until the Status Store
// reports a result.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskbridge/internal/consumer"
	"taskbridge/internal/queue"
	"taskbridge/internal/store"
)

// GroupIDMode controls how a Producer assigns a message's FIFO group, per
// spec.md §4.5/§9.
type GroupIDMode string

const (
	// GroupIDGlobal pins every request from every Producer to one constant
	// group, serializing all submissions into delivery order — useful for a
	// single-consumer deployment that must process in submission order.
	GroupIDGlobal GroupIDMode = "global"
	// GroupIDPerRequest gives every request its own group, so independent
	// requests parallelize freely across consumers.
	GroupIDPerRequest GroupIDMode = "request"
	// GroupIDPerProducer pins all of one Producer's requests to a single
	// group, generated once at construction, preserving submission order
	// for callers who need it (weaker across restarts, per spec.md §9).
	GroupIDPerProducer GroupIDMode = "producer"
)

// globalGroupID is the fixed group used by GroupIDGlobal.
const globalGroupID = "taskbridge-global"

// Config holds the producer-side tunables.
type Config struct {
	GroupIDMode      GroupIDMode
	DefaultTimeout   time.Duration
	PollInterval     time.Duration
	ResultTTLSeconds int64
}

// PostResponse is what PostNonBlocking returns: a handle to poll or await
// later.
type PostResponse struct {
	MessageID string `json:"message_id"`
	RequestID string `json:"request_id"`
}

// Response is the Producer's blocking-call result shape, per spec.md §4.5:
// a successful response has Status=SUCCESS, StatusCode=200, Error=nil.
type Response struct {
	MessageID  string             `json:"message_id"`
	RequestID  string             `json:"request_id,omitempty"`
	Status     store.ResultStatus `json:"status"`
	StatusCode int                `json:"status_code"`
	Result     json.RawMessage    `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Producer submits requests and retrieves their results.
type Producer struct {
	q               queue.Queue
	store           *store.Client
	cfg             Config
	producerGroupID string
	logger          *zap.Logger
}

// New builds a Producer. When cfg.GroupIDMode is GroupIDPerProducer, the
// shared group ID is generated once here, not per call. Construction fails
// for any mode outside {global, request, producer}, per spec.md §4.5.
func New(q queue.Queue, storeClient *store.Client, cfg Config, logger *zap.Logger) (*Producer, error) {
	switch cfg.GroupIDMode {
	case GroupIDGlobal, GroupIDPerRequest, GroupIDPerProducer:
	default:
		return nil, fmt.Errorf("producer: unrecognised message_group_id_mode %q", cfg.GroupIDMode)
	}
	return &Producer{
		q:               q,
		store:           storeClient,
		cfg:             cfg,
		producerGroupID: uuid.NewString(),
		logger:          logger,
	}, nil
}

func (p *Producer) groupID(requestID string) string {
	switch p.cfg.GroupIDMode {
	case GroupIDGlobal:
		return globalGroupID
	case GroupIDPerProducer:
		return p.producerGroupID
	default: // GroupIDPerRequest
		return requestID
	}
}

// PostNonBlocking submits payload and returns immediately with a handle the
// caller can poll or await later with RetrieveResult/PollResult. requestID,
// if empty, is generated as a UUIDv4, per spec.md §4.5 step 1.
func (p *Producer) PostNonBlocking(ctx context.Context, payload any, requestID string) (*PostResponse, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	body, err := json.Marshal(consumer.Request{RequestID: requestID, Payload: payloadJSON})
	if err != nil {
		return nil, fmt.Errorf("marshal request envelope: %w", err)
	}

	messageID, err := p.q.Send(ctx, p.groupID(requestID), body)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	if err := p.store.PutStatus(ctx, store.StatusSubmitted, messageID, store.PutStatusOptions{
		RequestID:  &requestID,
		TTLSeconds: p.cfg.ResultTTLSeconds,
	}); err != nil {
		p.logger.Error("failed to record submitted status", zap.String("message_id", messageID), zap.Error(err))
	}

	return &PostResponse{MessageID: messageID, RequestID: requestID}, nil
}

// Post submits payload and blocks until a result is available or timeout
// elapses, using timeout/poll defaults from Config when zero values are
// passed, per spec.md §4.5: it calls PostNonBlocking then polls the Store,
// always returning a Response rather than propagating an error to the
// caller.
func (p *Producer) Post(ctx context.Context, payload any, requestID string, timeout, pollInterval time.Duration) *Response {
	if timeout == 0 {
		timeout = p.cfg.DefaultTimeout
	}
	if pollInterval == 0 {
		pollInterval = p.cfg.PollInterval
	}

	posted, err := p.PostNonBlocking(ctx, payload, requestID)
	if err != nil {
		return &Response{RequestID: requestID, Status: store.StatusError, StatusCode: 500, Error: err.Error()}
	}

	result, reqID, err := p.store.PollResult(ctx, posted.MessageID, timeout, pollInterval)
	if err != nil {
		rid := posted.RequestID
		if reqID != nil {
			rid = *reqID
		}
		return &Response{MessageID: posted.MessageID, RequestID: rid, Status: store.StatusError, StatusCode: 500, Error: err.Error()}
	}

	return &Response{MessageID: posted.MessageID, RequestID: posted.RequestID, Status: store.StatusSuccess, StatusCode: 200, Result: result}
}

// RetrieveResultStatus returns the current status for a previously submitted
// message.
func (p *Producer) RetrieveResultStatus(ctx context.Context, messageID string) (store.ResultStatus, error) {
	return p.store.GetStatus(ctx, messageID)
}

// RetrieveResult performs a one-shot (non-polling) result lookup, mapping
// every non-success outcome to an ERROR/500 Response rather than
// propagating a typed store error, per spec.md §4.5.
func (p *Producer) RetrieveResult(ctx context.Context, messageID string) *Response {
	result, requestID, err := p.store.GetResult(ctx, messageID)
	if err != nil {
		rid := ""
		if requestID != nil {
			rid = *requestID
		}
		return &Response{MessageID: messageID, RequestID: rid, Status: store.StatusError, StatusCode: 500, Error: err.Error()}
	}
	rid := ""
	if requestID != nil {
		rid = *requestID
	}
	return &Response{MessageID: messageID, RequestID: rid, Status: store.StatusSuccess, StatusCode: 200, Result: result}
}
