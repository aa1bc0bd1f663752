package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %s, want :8080", cfg.HTTPAddr)
	}
	if cfg.CollectingWindow != 24*time.Hour {
		t.Errorf("CollectingWindow = %s, want 24h", cfg.CollectingWindow)
	}
	if cfg.PaymentWindow != 6*time.Hour {
		t.Errorf("PaymentWindow = %s, want 6h", cfg.PaymentWindow)
	}
	if cfg.DefaultCurrency != "INR" {
		t.Errorf("DefaultCurrency = %s, want INR", cfg.DefaultCurrency)
	}
}

func TestLoadOverridesAndValidation(t *testing.T) {
	t.Setenv("PAYMENT_WINDOW", "2h")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092,broker-2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PaymentWindow != 2*time.Hour {
		t.Errorf("PaymentWindow = %s, want 2h", cfg.PaymentWindow)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "broker-2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}

	t.Setenv("PAYMENT_WINDOW", "0s")
	if _, err := Load(); err == nil {
		t.Error("a zero payment window should fail validation")
	}
}
