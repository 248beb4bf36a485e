// Package config содержит логику чтения конфигурации сервиса кликпет.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса кликпет.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	BillingSystemAddress string `env:"BILLING_SYSTEM_ADDRESS"`
	AuthSecret           string `env:"AUTH_SECRET"`
	AdminLogin           string `env:"ADMIN_LOGIN"`
	AdminPassword        string `env:"ADMIN_PASSWORD"`
	ReferralRewardPoints int64  `env:"REFERRAL_REWARD_POINTS"`
	ReferralMinOrder     int64  `env:"REFERRAL_MIN_ORDER"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBillingAddress := cfg.BillingSystemAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BillingSystemAddress, "b", "", "billing system address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBillingAddress != "" {
		cfg.BillingSystemAddress = envBillingAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = "clickpet-secret"
	}
	if cfg.ReferralRewardPoints <= 0 {
		cfg.ReferralRewardPoints = 200
	}

	return cfg, nil
}
