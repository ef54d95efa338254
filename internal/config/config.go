package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	ListenAddr     string   `env:"LISTEN_ADDR" envDefault:":5001"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"localhost:3000"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"chessbit"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"1h"`

	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	SettlementURL         string        `env:"SETTLEMENT_URL"`
	SettlementMaxAttempts int           `env:"SETTLEMENT_MAX_ATTEMPTS" envDefault:"20"`
	SettlementRetryDelay  time.Duration `env:"SETTLEMENT_RETRY_DELAY" envDefault:"500ms"`

	AddressPersistTimeout time.Duration `env:"ADDRESS_PERSIST_TIMEOUT" envDefault:"5s"`
	SendBuffer            int           `env:"SEND_BUFFER" envDefault:"64"`

	MessagesDir string `env:"MESSAGES_DIR"`
}

// Load reads AppConfig from the environment and validates it.
func Load() (*AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.JWTIssuer = strings.TrimSpace(cfg.JWTIssuer)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.SettlementURL = strings.TrimSpace(cfg.SettlementURL)
	cfg.MessagesDir = strings.TrimSpace(cfg.MessagesDir)

	origins := cfg.AllowedOrigins[:0]
	for _, o := range cfg.AllowedOrigins {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	cfg.AllowedOrigins = origins

	if cfg.SettlementMaxAttempts <= 0 {
		cfg.SettlementMaxAttempts = 20
	}
	if cfg.SettlementRetryDelay <= 0 {
		cfg.SettlementRetryDelay = 500 * time.Millisecond
	}
	if cfg.AddressPersistTimeout <= 0 {
		cfg.AddressPersistTimeout = 5 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}

	if cfg.ListenAddr == "" {
		return nil, errors.New("LISTEN_ADDR must not be empty")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return &cfg, nil
}
