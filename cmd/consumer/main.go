package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taskbridge/internal/config"
	"taskbridge/internal/consumer"
	"taskbridge/internal/observability"
	"taskbridge/internal/queue/jetstream"
	"taskbridge/internal/scalein"
	"taskbridge/internal/store"
	"taskbridge/internal/store/redisstore"
	"taskbridge/internal/probe"
)

// echoCompute is the bundled demonstration compute function: it reflects the
// request payload back as the result. Real deployments replace this with
// the business logic the bridge is fronting.
func echoCompute(ctx context.Context, messageID, requestID string, payload json.RawMessage) (any, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, consumer.Unretryable(err)
	}
	return decoded, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger := observability.GetLoggerFromEnv(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting taskbridge consumer", zap.String("log_level", cfg.LogLevel))

	shutdownOtel, err := observability.SetupOpenTelemetry("taskbridge-consumer", logger)
	if err != nil {
		logger.Fatal("failed to setup opentelemetry", zap.Error(err))
	}
	defer shutdownOtel()

	metrics := observability.Noop()
	if cfg.MetricsEnabled {
		metrics, err = observability.NewMetrics()
		if err != nil {
			logger.Fatal("failed to create metrics", zap.Error(err))
		}
	}

	redisBackend, err := redisstore.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisBackend.Close()
	storeClient := store.New(redisBackend)

	q, err := jetstream.New(cfg.NATSURL, jetstream.Options{
		StreamName:  cfg.StreamName,
		Subject:     cfg.StreamName + ".requests",
		DurableName: "taskbridge-consumer",
		AckWait:     time.Duration(cfg.HeartbeatVisibilityTimeout) * time.Second,
		MaxDeliver:  cfg.MaxReceiveCount,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to nats jetstream", zap.Error(err))
	}
	defer q.Close()

	guard := scalein.New(scalein.Options{
		AgentURL:                cfg.ScaleInAddr,
		ProtectionExpiryMinutes: cfg.ScaleInProtectionExpiryMinutes,
	}, logger, metrics)

	consumerCfg := consumer.Config{
		WaitTime:                time.Duration(cfg.QueueWaitTimeSeconds) * time.Second,
		VisibilityTimeout:       time.Duration(cfg.HeartbeatVisibilityTimeout) * time.Second,
		HeartbeatInterval:       time.Duration(cfg.HeartbeatInterval) * time.Second,
		HeartbeatStopTimeout:    30 * time.Second,
		MaxReceiveCount:         cfg.MaxReceiveCount,
		ResultTTLSeconds:        int64(cfg.InProgressTTLSeconds),
		EnableScaleInProtection: cfg.EnableScaleInProtection,
	}

	group, err := consumer.NewGroup("consumer", cfg.ConsumerPoolSize, q, storeClient, guard, echoCompute, consumerCfg, logger, metrics)
	if err != nil {
		logger.Fatal("failed to build consumer group", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group.Start(ctx)

	healthMonitor := consumer.NewHealthMonitor(30*time.Second, 500, 1000, logger)
	healthMonitor.Start(ctx)

	probeServer := probe.New(logger, pingerFunc(q.Ping), pingerFunc(redisBackend.Ping), group, group)
	go func() {
		if err := probeServer.Listen(":" + cfg.Port); err != nil {
			logger.Error("probe server stopped", zap.Error(err))
		}
	}()

	logger.Info("consumer group started, waiting for messages...")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down consumer...")
	healthMonitor.Stop()
	group.Stop(30 * time.Second)
	probeServer.Shutdown()
	logger.Info("consumer shutdown complete")
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }
