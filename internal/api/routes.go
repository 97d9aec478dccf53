package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

// SetupRoutes wires the Producer's HTTP surface onto app, using the same
// middleware stack (recover, request id, CORS, structured request logging)
// as the teacher's internal/api/middleware.go SetupMiddleware.
func SetupRoutes(app *fiber.App, logger *zap.Logger, handlers *Handlers) {
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST",
		AllowHeaders: "Origin,Content-Type,Accept",
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

	v1 := app.Group("/v1")
	v1.Post("/submit", handlers.Submit)
	v1.Post("/submit-blocking", handlers.SubmitBlocking)
	v1.Get("/status/:id", handlers.Status)
	v1.Get("/result/:id", handlers.Result)
}
