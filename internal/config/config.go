package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseDSN            string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL            string `env:"RABBITMQ_URL,required=true"`
	RedisURL               string `env:"REDIS_URL,required=true"`
	CollaboratorWebhookURL string `env:"COLLABORATOR_WEBHOOK_URL,required=true"`
	APIPort                int    `env:"API_PORT,default=8080"`
	LogLevel               string `env:"LOG_LEVEL,default=info"`

	DefaultBottleVolumeML    string `env:"DEFAULT_BOTTLE_VOLUME_ML,default=50"`
	DefrostWindowHours       int    `env:"DEFROST_WINDOW_HOURS,default=24"`
	MinPasteurisationMinutes int    `env:"MIN_PASTEURISATION_MINUTES,default=0"`

	LockTTLSeconds int `env:"LOCK_TTL_SECONDS,default=10"`
	LockWaitMillis int `env:"LOCK_WAIT_MILLIS,default=2000"`

	RelayIntervalSeconds int `env:"RELAY_INTERVAL_SECONDS,default=2"`
	RelayBatchSize       int `env:"RELAY_BATCH_SIZE,default=100"`
	MaxDeliveryAttempts  int `env:"MAX_DELIVERY_ATTEMPTS,default=5"`
	RateLimitPerSec      int `env:"RATE_LIMIT_PER_SEC,default=50"`
	WorkerConcurrency    int `env:"WORKER_CONCURRENCY,default=4"`

	bottleVolume decimal.Decimal
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"DATABASE_DSN":             c.DatabaseDSN,
		"RABBITMQ_URL":             c.RabbitMQURL,
		"REDIS_URL":                c.RedisURL,
		"COLLABORATOR_WEBHOOK_URL": c.CollaboratorWebhookURL,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be blank", name)
		}
	}

	volume, err := decimal.NewFromString(strings.TrimSpace(c.DefaultBottleVolumeML))
	if err != nil {
		return fmt.Errorf("DEFAULT_BOTTLE_VOLUME_ML: %w", err)
	}
	if !volume.IsPositive() {
		return fmt.Errorf("DEFAULT_BOTTLE_VOLUME_ML must be positive")
	}
	c.bottleVolume = volume

	positive := map[string]int{
		"API_PORT":               c.APIPort,
		"DEFROST_WINDOW_HOURS":   c.DefrostWindowHours,
		"LOCK_TTL_SECONDS":       c.LockTTLSeconds,
		"RELAY_INTERVAL_SECONDS": c.RelayIntervalSeconds,
		"RELAY_BATCH_SIZE":       c.RelayBatchSize,
		"MAX_DELIVERY_ATTEMPTS":  c.MaxDeliveryAttempts,
		"RATE_LIMIT_PER_SEC":     c.RateLimitPerSec,
		"WORKER_CONCURRENCY":     c.WorkerConcurrency,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	if c.MinPasteurisationMinutes < 0 {
		return fmt.Errorf("MIN_PASTEURISATION_MINUTES must not be negative")
	}
	if c.LockWaitMillis < 0 {
		return fmt.Errorf("LOCK_WAIT_MILLIS must not be negative")
	}
	return nil
}

func (c *Config) DefaultBottleVolume() decimal.Decimal { return c.bottleVolume }

func (c *Config) DefrostWindow() time.Duration {
	return time.Duration(c.DefrostWindowHours) * time.Hour
}

func (c *Config) MinPasteurisation() time.Duration {
	return time.Duration(c.MinPasteurisationMinutes) * time.Minute
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c *Config) LockWait() time.Duration {
	return time.Duration(c.LockWaitMillis) * time.Millisecond
}

func (c *Config) RelayInterval() time.Duration {
	return time.Duration(c.RelayIntervalSeconds) * time.Second
}
