package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Backend is the minimal persistence contract a concrete store (Redis,
// or any other strongly-consistent keyed store with TTL support) must
// satisfy. All of the StoreItem business rules in spec.md §4.1 live in
// Client, above the Backend, so they apply identically to any backend.
type Backend interface {
	// Put writes item under item.MessageID. When allowOverwrite is false and
	// a row already exists, Put returns ErrKeyAlreadyExists without writing.
	Put(ctx context.Context, item *Item, allowOverwrite bool) error
	// Get performs a strongly-consistent read. It returns ErrKeyNotFound if
	// absent.
	Get(ctx context.Context, messageID string) (*Item, error)
}

// Client implements the full Status Store contract (spec.md §4.1) over any
// Backend.
type Client struct {
	backend Backend
	now     func() time.Time
}

// New wraps backend with the Status Store's put/get/poll business rules.
func New(backend Backend) *Client {
	return &Client{backend: backend, now: time.Now}
}

// PutItem writes a fully-formed item, validating StoreItem invariants first.
func (c *Client) PutItem(ctx context.Context, item *Item, allowOverwrite bool) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return c.backend.Put(ctx, item, allowOverwrite)
}

// PutStatusOptions carries the optional fields for PutStatus.
type PutStatusOptions struct {
	TTLSeconds        int64
	RequestID         *string
	Error             *string
	SerialisedMessage *string
}

// PutStatus constructs and writes a non-terminal-or-ERROR StoreItem. SUCCESS
// must go through PutResult; an Error set on a non-ERROR status is rejected,
// per spec.md §4.1.
func (c *Client) PutStatus(ctx context.Context, status ResultStatus, messageID string, opts PutStatusOptions) error {
	if status == StatusSuccess {
		return fmt.Errorf("PutStatus: use PutResult for SUCCESS")
	}
	if opts.Error != nil && status != StatusError {
		return fmt.Errorf("PutStatus: error is only valid for status ERROR")
	}

	item := &Item{
		MessageID:         messageID,
		Status:            status,
		UpdatedAt:         c.now().UTC().Unix(),
		RequestID:         opts.RequestID,
		Error:             opts.Error,
		SerialisedMessage: opts.SerialisedMessage,
	}
	if opts.TTLSeconds > 0 {
		exp := c.now().UTC().Unix() + opts.TTLSeconds
		item.Expiration = &exp
	}

	return c.PutItem(ctx, item, true)
}

// PutResult writes a terminal SUCCESS row. result is marshaled to a JSON
// string up front (spec.md §4.1/§9: results are stored pre-serialized to
// avoid the backend's native numeric coercions).
func (c *Client) PutResult(ctx context.Context, messageID string, result any, requestID *string, serialisedMessage *string) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	resultStr := string(resultJSON)

	item := &Item{
		MessageID:         messageID,
		Status:            StatusSuccess,
		UpdatedAt:         c.now().UTC().Unix(),
		Result:            &resultStr,
		RequestID:         requestID,
		SerialisedMessage: serialisedMessage,
	}
	return c.PutItem(ctx, item, true)
}

// PutError writes a terminal ERROR row carrying exp's type and message.
func (c *Client) PutError(ctx context.Context, messageID string, exp error, requestID *string, serialisedMessage *string) error {
	errStr := fmt.Sprintf("%T: %s", exp, exp.Error())
	return c.PutStatus(ctx, StatusError, messageID, PutStatusOptions{
		RequestID:         requestID,
		Error:             &errStr,
		SerialisedMessage: serialisedMessage,
	})
}

// GetItem performs a strongly-consistent read, rejecting malformed rows as
// Unparseable and (if raiseForExpiry) stale non-terminal rows as ExpiredItem.
func (c *Client) GetItem(ctx context.Context, messageID string, raiseForExpiry bool) (*Item, error) {
	item, err := c.backend.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if raiseForExpiry && item.IsExpired(c.now()) {
		return nil, ErrExpiredItem
	}
	return item, nil
}

// GetResult returns the parsed result for a SUCCESS row, or a typed error for
// every other terminal/non-terminal state, per spec.md §4.1.
func (c *Client) GetResult(ctx context.Context, messageID string) (json.RawMessage, *string, error) {
	item, err := c.GetItem(ctx, messageID, true)
	if err != nil {
		return nil, nil, err
	}

	switch item.Status {
	case StatusSuccess:
		if item.Result == nil {
			return nil, nil, ErrResultMissing
		}
		return json.RawMessage(*item.Result), item.RequestID, nil
	case StatusError:
		msg := ""
		if item.Error != nil {
			msg = *item.Error
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrResultErrorStatus, msg)
	default: // SUBMITTED, IN_PROGRESS
		return nil, nil, ErrResultInProgressStatus
	}
}

// GetStatus returns the row's status, collapsing ExpiredItem and Unparseable
// into the terminal ERROR status rather than propagating those failures, per
// spec.md §4.1.
func (c *Client) GetStatus(ctx context.Context, messageID string) (ResultStatus, error) {
	item, err := c.GetItem(ctx, messageID, true)
	if err != nil {
		if errors.Is(err, ErrExpiredItem) || errors.Is(err, ErrUnparseable) {
			return StatusError, nil
		}
		return "", err
	}
	return item.Status, nil
}

// ResultExists reports whether GetResult would succeed, without surfacing why
// it would not.
func (c *Client) ResultExists(ctx context.Context, messageID string) (bool, error) {
	_, _, err := c.GetResult(ctx, messageID)
	if err == nil {
		return true, nil
	}
	switch {
	case errors.Is(err, ErrKeyNotFound),
		errors.Is(err, ErrResultMissing),
		errors.Is(err, ErrResultErrorStatus),
		errors.Is(err, ErrResultInProgressStatus),
		errors.Is(err, ErrExpiredItem),
		errors.Is(err, ErrUnparseable):
		return false, nil
	default:
		return false, err
	}
}

// PollResult loops GetResult until it succeeds, a non-transient error
// surfaces, or timeout elapses. KeyNotFound and ResultInProgressStatus are
// the only retryable outcomes; everything else propagates immediately, per
// spec.md §4.1.
func (c *Client) PollResult(ctx context.Context, messageID string, timeout, pollInterval time.Duration) (json.RawMessage, *string, error) {
	deadline := c.now().Add(timeout)

	for {
		result, requestID, err := c.GetResult(ctx, messageID)
		if err == nil {
			return result, requestID, nil
		}
		if !errors.Is(err, ErrKeyNotFound) && !errors.Is(err, ErrResultInProgressStatus) {
			return nil, nil, err
		}
		if !c.now().Before(deadline) {
			return nil, nil, ErrAwaitingResultTimeout
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}
}
