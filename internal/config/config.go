// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment-tunable knob for both the consumer and
// producer binaries. Fields are grouped the way the teacher's
// internal/config.Config groups server/db/observability settings.
type Config struct {
	// Transport
	NATSURL     string `envconfig:"NATS_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`
	ScaleInAddr string `envconfig:"SCALEIN_AGENT_URL"`

	// HTTP probe server
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	// Consumer
	QueueWaitTimeSeconds           int    `envconfig:"QUEUE_WAIT_TIME_SECONDS" default:"1"`
	InProgressTTLSeconds           int    `envconfig:"IN_PROGRESS_TTL_SECONDS" default:"600"`
	HeartbeatVisibilityTimeout     int    `envconfig:"HEARTBEAT_VISIBILITY_TIMEOUT" default:"30"`
	HeartbeatInterval              int    `envconfig:"HEARTBEAT_INTERVAL" default:"10"`
	EnableScaleInProtection        bool   `envconfig:"ENABLE_ECS_SCALEIN_PROTECTION" default:"true"`
	ScaleInProtectionExpiryMinutes int    `envconfig:"SCALEIN_PROTECTION_EXPIRY_MINUTES" default:"5"`
	MaxReceiveCount                int    `envconfig:"MAX_RECEIVE_COUNT" default:"5"`
	ConsumerPoolSize               int    `envconfig:"CONSUMER_POOL_SIZE" default:"1"`
	StreamName                     string `envconfig:"STREAM_NAME" default:"BRIDGE_REQUESTS"`

	// Producer
	MessageGroupIDMode string        `envconfig:"MESSAGE_GROUP_ID_MODE" default:"request"`
	ProducerTimeout    time.Duration `envconfig:"PRODUCER_TIMEOUT" default:"30s"`
	ProducerPollTime   time.Duration `envconfig:"PRODUCER_POLL_TIME" default:"250ms"`

	// Observability
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads Config from the environment, applying defaults and validating
// required fields the way the teacher's config.Load does.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
