// Package config loads runtime configuration from the environment, with an
// optional local .env file for development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration. Everything is injected through
// environment variables; nothing is hardcoded at call sites.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string `env:"DB_PATH" envDefault:"./data/groupbuy.db"`

	// JWTSecret must match the identity provider's signing secret.
	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	// CollectingWindow is the default collection deadline for a new cycle;
	// PaymentWindow is the fixed span granted once collection closes.
	CollectingWindow time.Duration `env:"COLLECTING_WINDOW" envDefault:"24h"`
	PaymentWindow    time.Duration `env:"PAYMENT_WINDOW" envDefault:"6h"`

	// SweepSpec is the cron schedule for the proactive deadline sweep.
	SweepSpec string `env:"SWEEP_SPEC" envDefault:"@every 1m"`

	// Gateway credentials. The webhook secret is distinct from the key
	// secret and signs webhook payloads only.
	RazorpayKeyID         string `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `env:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `env:"RAZORPAY_WEBHOOK_SECRET"`

	// Kafka notification pipeline; empty brokers fall back to the log sink.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"groupbuy-notifications"`

	// DispatchTimeout bounds post-commit event delivery.
	DispatchTimeout time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"5s"`

	// GatewayTimeout bounds each outbound gateway call.
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`

	DefaultCurrency string `env:"DEFAULT_CURRENCY" envDefault:"INR"`
}

// Load reads and validates configuration. A missing .env file is not an
// error; real deployments inject variables directly.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.PaymentWindow <= 0 {
		return Config{}, fmt.Errorf("PAYMENT_WINDOW must be > 0")
	}
	if cfg.CollectingWindow <= 0 {
		return Config{}, fmt.Errorf("COLLECTING_WINDOW must be > 0")
	}
	return cfg, nil
}
