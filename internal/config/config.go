// Package config содержит логику чтения конфигурации бэк-офиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации биллингового бэк-офиса.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	AuthSecret        string        `env:"AUTH_SECRET"`
	TelegramToken     string        `env:"TELEGRAM_BOT_TOKEN"`
	ReceiptPrefix     string        `env:"RECEIPT_PREFIX"`
	RecomputeInterval time.Duration `env:"RECOMPUTE_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения. Значения окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envTelegramToken := cfg.TelegramToken
	envReceiptPrefix := cfg.ReceiptPrefix
	envRecomputeInterval := cfg.RecomputeInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.StringVar(&cfg.TelegramToken, "t", "", "telegram bot token for receipts")
	flag.StringVar(&cfg.ReceiptPrefix, "p", "TELTEC", "receipt number prefix")
	flag.DurationVar(&cfg.RecomputeInterval, "i", time.Hour, "debt recompute interval")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envTelegramToken != "" {
		cfg.TelegramToken = envTelegramToken
	}
	if envReceiptPrefix != "" {
		cfg.ReceiptPrefix = envReceiptPrefix
	}
	if envRecomputeInterval != 0 {
		cfg.RecomputeInterval = envRecomputeInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.ReceiptPrefix == "" {
		cfg.ReceiptPrefix = "TELTEC"
	}
	if cfg.RecomputeInterval <= 0 {
		cfg.RecomputeInterval = time.Hour
	}

	return cfg, nil
}
