package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taskbridge/internal/api"
	"taskbridge/internal/config"
	"taskbridge/internal/observability"
	"taskbridge/internal/producer"
	"taskbridge/internal/queue/jetstream"
	"taskbridge/internal/store"
	"taskbridge/internal/store/redisstore"

	"github.com/gofiber/fiber/v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger := observability.GetLoggerFromEnv(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting taskbridge producer api")

	redisBackend, err := redisstore.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisBackend.Close()
	storeClient := store.New(redisBackend)

	q, err := jetstream.New(cfg.NATSURL, jetstream.Options{
		StreamName:  cfg.StreamName,
		Subject:     cfg.StreamName + ".requests",
		DurableName: "taskbridge-producer",
		AckWait:     time.Duration(cfg.HeartbeatVisibilityTimeout) * time.Second,
		MaxDeliver:  cfg.MaxReceiveCount,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to nats jetstream", zap.Error(err))
	}
	defer q.Close()

	producerCfg := producer.Config{
		GroupIDMode:      producer.GroupIDMode(cfg.MessageGroupIDMode),
		DefaultTimeout:   cfg.ProducerTimeout,
		PollInterval:     cfg.ProducerPollTime,
		ResultTTLSeconds: int64(cfg.ProducerTimeout.Seconds()) + 1,
	}

	p, err := producer.New(q, storeClient, producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to build producer", zap.Error(err))
	}

	handlers := api.NewHandlers(logger, p)
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	})
	api.SetupRoutes(app, logger, handlers)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("producer api stopped", zap.Error(err))
		}
	}()

	logger.Info("taskbridge producer api started", zap.String("port", cfg.Port))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down producer api...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error("failed to shutdown gracefully", zap.Error(err))
	}
	logger.Info("producer api shutdown complete")
}
