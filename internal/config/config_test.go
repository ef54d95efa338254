package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when JWT_SECRET is missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":5001" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.SettlementRetryDelay != 500*time.Millisecond || cfg.SettlementMaxAttempts != 20 {
		t.Fatalf("unexpected settlement defaults: %v %d", cfg.SettlementRetryDelay, cfg.SettlementMaxAttempts)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "localhost:3000" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ALLOWED_ORIGINS", " a.example , ,b.example")
	t.Setenv("SETTLEMENT_RETRY_DELAY", "2s")
	t.Setenv("SEND_BUFFER", "8")
	t.Setenv("REDIS_URL", "  redis://localhost:6379/1 ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "b.example" {
		t.Fatalf("origins not trimmed: %v", cfg.AllowedOrigins)
	}
	if cfg.SettlementRetryDelay != 2*time.Second {
		t.Fatalf("retry delay: %v", cfg.SettlementRetryDelay)
	}
	if cfg.SendBuffer != 8 {
		t.Fatalf("send buffer: %d", cfg.SendBuffer)
	}
	if cfg.RedisURL != "redis://localhost:6379/1" {
		t.Fatalf("redis url not trimmed: %q", cfg.RedisURL)
	}
}
