// Package probe exposes the thin HTTP front-end spec.md §4.6 describes as
// explicitly outside the core: /ready, /health, /busy, and /metrics. Route
// setup and middleware follow the teacher's internal/api package.
package probe

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is satisfied by anything the /ready probe should check connectivity
// for (the Queue and the Status Store backend).
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunningChecker reports whether consumption is active, for /health.
type RunningChecker interface {
	IsRunning() bool
}

// BusyChecker reports whether a message is currently being processed, for
// /busy. It must never block.
type BusyChecker interface {
	IsBusy() bool
}

// Server is the Fiber app backing the probe endpoints.
type Server struct {
	app *fiber.App
}

// New builds the probe Server. queuePing and storePing are checked by
// /ready; runner and busy back /health and /busy respectively.
func New(logger *zap.Logger, queuePing, storePing Pinger, runner RunningChecker, busy BusyChecker) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET",
	}))
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("http_request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Get("X-Request-Id")))
		return err
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		if !runner.IsRunning() {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "stopped"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		if !runner.IsRunning() {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "not ready", "reason": "consumer stopped"})
		}
		if err := queuePing.Ping(ctx); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "not ready", "reason": "queue"})
		}
		if err := storePing.Ping(ctx); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "not ready", "reason": "store"})
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})

	// /busy reports 200 when free and 503 when processing, per the probe
	// contract; IsBusy must never block so this handler never holds up the
	// event loop.
	app.Get("/busy", func(c *fiber.Ctx) error {
		if busy.IsBusy() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"busy": true})
		}
		return c.JSON(fiber.Map{"busy": false})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return &Server{app: app}
}

// Listen starts serving on addr, blocking until the app stops.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
