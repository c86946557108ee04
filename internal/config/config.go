// Package config содержит логику чтения конфигурации сервиса магазина.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса магазина.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	RedisAddress string `env:"REDIS_ADDRESS"`

	SessionSecret string `env:"SESSION_SECRET"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripePublicKey     string `env:"STRIPE_PUBLIC_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WH_SECRET"`
	StripeCurrency      string `env:"STRIPE_CURRENCY" envDefault:"usd"`

	MailAPIAddress   string `env:"MAIL_API_ADDRESS"`
	MailAPIKey       string `env:"MAIL_API_KEY"`
	DefaultFromEmail string `env:"DEFAULT_FROM_EMAIL" envDefault:"shop@example.com"`

	FreeDeliveryThreshold      string `env:"FREE_DELIVERY_THRESHOLD" envDefault:"50"`
	StandardDeliveryPercentage string `env:"STANDARD_DELIVERY_PERCENTAGE" envDefault:"10"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "r", "localhost:6379", "redis address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
