package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	// RabbitMQURL enables broker triggers and dispatch events when set.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	TermiiAPIKey        string `env:"TERMII_API_KEY,required=true"`
	TermiiBaseURL       string `env:"TERMII_BASE_URL,default=https://v3.api.termii.com"`
	TermiiSenderID      string `env:"TERMII_SENDER_ID"`
	SMSSignature        string `env:"SMS_SIGNATURE"`
	ReceiptGeneratorURL string `env:"RECEIPT_GENERATOR_URL,required=true"`

	SMSBatchSize           int    `env:"SMS_BATCH_SIZE,default=20"`
	ReceiptBatchSize       int    `env:"RECEIPT_BATCH_SIZE,default=10"`
	MaxAttempts            int    `env:"MAX_ATTEMPTS,default=3"`
	InterItemDelayMS       int    `env:"INTER_ITEM_DELAY_MS,default=200"`
	GatewayRateLimitPerSec int    `env:"GATEWAY_RATE_LIMIT_PER_SEC,default=10"`
	QueueLockTTLSec        int    `env:"QUEUE_LOCK_TTL_SEC,default=300"`
	SMSSchedule            string `env:"SMS_SCHEDULE,default=@every 1m"`
	ReceiptSchedule        string `env:"RECEIPT_SCHEDULE,default=@every 2m"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	LogFile  string `env:"LOG_FILE"`
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
	if c.SMSBatchSize <= 0 || c.ReceiptBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive")
	}
	if c.InterItemDelayMS < 0 {
		return fmt.Errorf("INTER_ITEM_DELAY_MS must be >= 0")
	}
	if c.QueueLockTTLSec <= 0 {
		return fmt.Errorf("QUEUE_LOCK_TTL_SEC must be positive")
	}
	return nil
}

// InterItemDelay is the pacing sleep between dispatches. Zero disables pacing.
func (c *Config) InterItemDelay() time.Duration {
	if c.InterItemDelayMS == 0 {
		return -1
	}
	return time.Duration(c.InterItemDelayMS) * time.Millisecond
}

func (c *Config) QueueLockTTL() time.Duration {
	return time.Duration(c.QueueLockTTLSec) * time.Second
}
