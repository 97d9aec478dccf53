// Package api is the thin HTTP front-end for the Producer, grounded on the
// teacher's internal/api handlers/routes split (internal/api/handlers.go,
// internal/api/routes.go): parse request, call the service layer, map the
// result onto a status code and JSON body.
package api

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"taskbridge/internal/producer"
)

// submitRequest is the POST /v1/submit body: an opaque JSON payload plus an
// optional caller-supplied request_id, per spec.md §4.5.
type submitRequest struct {
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Handlers wires the Producer into fiber route handlers.
type Handlers struct {
	logger   *zap.Logger
	producer *producer.Producer
}

// NewHandlers builds a Handlers bound to producer.
func NewHandlers(logger *zap.Logger, p *producer.Producer) *Handlers {
	return &Handlers{logger: logger, producer: p}
}

// Submit handles POST /v1/submit: enqueue payload and return the handle
// immediately (spec.md §4.5 post_non_blocking).
func (h *Handlers) Submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	resp, err := h.producer.PostNonBlocking(c.Context(), req.Payload, req.RequestID)
	if err != nil {
		h.logger.Error("failed to submit request", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to submit request"})
	}

	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// SubmitBlocking handles POST /v1/submit-blocking: enqueue payload and block
// until a result is available or the request's timeout elapses (spec.md
// §4.5 post).
func (h *Handlers) SubmitBlocking(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	timeout := time.Duration(0)
	if raw := c.Query("timeout_seconds"); raw != "" {
		if parsed, err := time.ParseDuration(raw + "s"); err == nil {
			timeout = parsed
		}
	}

	resp := h.producer.Post(c.Context(), req.Payload, req.RequestID, timeout, 0)
	return c.Status(resp.StatusCode).JSON(resp)
}

// Status handles GET /v1/status/:id, returning the raw ResultStatus tag.
func (h *Handlers) Status(c *fiber.Ctx) error {
	messageID := c.Params("id")
	status, err := h.producer.RetrieveResultStatus(c.Context(), messageID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown message id"})
	}
	return c.JSON(fiber.Map{"message_id": messageID, "status": status})
}

// Result handles GET /v1/result/:id, a one-shot (non-blocking) result fetch
// (spec.md §4.5 retrieve_result).
func (h *Handlers) Result(c *fiber.Ctx) error {
	resp := h.producer.RetrieveResult(c.Context(), c.Params("id"))
	return c.Status(resp.StatusCode).JSON(resp)
}
