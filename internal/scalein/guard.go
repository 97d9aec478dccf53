// Package scalein implements the Scale-In Guard: a thin HTTP client against
// the local ECS agent's task-protection endpoint, retried on transient
// failure the way the teacher's resilience package retries transient
// operations.
package scalein

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"taskbridge/internal/observability"
)

// RequestError is returned when the guard cannot reach the agent at all
// (connection refused, timeout, DNS failure) or the agent keeps answering
// with a 5xx status once retries are exhausted.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return fmt.Sprintf("scalein: request error: %v", e.Err) }
func (e *RequestError) Unwrap() error { return e.Err }

// AgentError is returned when the agent responded but rejected the call.
type AgentError struct {
	StatusCode int
	Body       string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("scalein: agent returned %d: %s", e.StatusCode, e.Body)
}

// RetryConfig configures the guard's retry behavior, grounded on the same
// exponential-backoff shape as the teacher's resilience.Retry (no jitter).
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig is 3 retries after the first attempt (4 attempts in
// all) with a 0.5 backoff factor.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 4, InitialDelay: 200 * time.Millisecond, BackoffFactor: 0.5}
}

type protectionRequest struct {
	ProtectionEnabled bool `json:"ProtectionEnabled"`
	ExpiresInMinutes  int  `json:"ExpiresInMinutes,omitempty"`
}

// agentResponse is the 2xx response body shape: the agent signals a refusal
// in-band with a "failure" or "error" field rather than a non-2xx status.
type agentResponse struct {
	Failure string `json:"failure"`
	Error   string `json:"error"`
}

func (r agentResponse) refusalMessage() string {
	if r.Failure != "" {
		return r.Failure
	}
	return r.Error
}

// Guard toggles ECS scale-in protection for the task this process runs in.
type Guard struct {
	client        *http.Client
	agentURL      string
	retry         RetryConfig
	expiryMinutes int
	raiseReq      bool
	raiseAgent    bool
	logger        *zap.Logger
	metrics       *observability.Metrics
}

// Options configures a Guard.
type Options struct {
	AgentURL string
	Retry    RetryConfig
	// ProtectionExpiryMinutes is the ExpiresInMinutes sent with Acquire; the
	// agent auto-expires protection after this long if Release is never
	// called (e.g. the process is killed).
	ProtectionExpiryMinutes int
	// RaiseForRequestError controls whether Acquire/Release return a
	// RequestError after retries are exhausted, or log and swallow it.
	RaiseForRequestError bool
	// RaiseForAgentError controls the same for an agent-reported refusal.
	RaiseForAgentError bool
}

// New builds a Guard. If opts.AgentURL is empty, the returned Guard is a
// no-op: Acquire/Release succeed immediately without contacting anything,
// for environments without ECS scale-in protection (e.g. local dev).
func New(opts Options, logger *zap.Logger, metrics *observability.Metrics) *Guard {
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	return &Guard{
		client:        &http.Client{Timeout: 15 * time.Second},
		agentURL:      opts.AgentURL,
		retry:         retry,
		expiryMinutes: opts.ProtectionExpiryMinutes,
		raiseReq:      opts.RaiseForRequestError,
		raiseAgent:    opts.RaiseForAgentError,
		logger:        logger,
		metrics:       metrics,
	}
}

// Acquire requests scale-in protection for the duration of one message's
// processing.
func (g *Guard) Acquire(ctx context.Context) error {
	return g.setProtection(ctx, true, g.expiryMinutes)
}

// Release relinquishes scale-in protection once processing completes.
func (g *Guard) Release(ctx context.Context) error {
	return g.setProtection(ctx, false, 0)
}

func (g *Guard) setProtection(ctx context.Context, enabled bool, expiresInMinutes int) error {
	if g.agentURL == "" {
		return nil
	}

	body, err := json.Marshal(protectionRequest{ProtectionEnabled: enabled, ExpiresInMinutes: expiresInMinutes})
	if err != nil {
		return fmt.Errorf("marshal protection request: %w", err)
	}

	var lastErr error
	delay := g.retry.InitialDelay

	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := g.call(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err

		if _, isAgentErr := err.(*AgentError); isAgentErr {
			// Agent errors are not retried: the agent rejected the request
			// deliberately, retrying the same payload will not help.
			break
		}

		if attempt == g.retry.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * (1 + g.retry.BackoffFactor*math.Pow(2, float64(attempt-1))))
	}

	g.metrics.GuardErrors.Add(ctx, 1)

	if agentErr, ok := lastErr.(*AgentError); ok {
		g.logger.Error("scale-in agent rejected protection request", zap.Error(agentErr))
		if g.raiseAgent {
			return agentErr
		}
		return nil
	}

	g.logger.Error("scale-in agent unreachable", zap.Error(lastErr))
	if g.raiseReq {
		return &RequestError{Err: lastErr}
	}
	return nil
}

func (g *Guard) call(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, g.agentURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("agent server error: %d %s", resp.StatusCode, respBody)
	}
	if resp.StatusCode >= 400 {
		return &AgentError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	// A 2xx response can still be an agent-level refusal: the agent reports
	// it in-band via a "failure" or "error" field rather than a non-2xx
	// status.
	var decoded agentResponse
	if err := json.Unmarshal(respBody, &decoded); err == nil {
		if msg := decoded.refusalMessage(); msg != "" {
			return &AgentError{StatusCode: resp.StatusCode, Body: msg}
		}
	}
	return nil
}
