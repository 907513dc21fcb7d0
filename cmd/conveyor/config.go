package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// config is populated from the environment (and an optional .env file).
type config struct {
	// Store selects the backend: "postgres", "redis", or "memory".
	Store string `env:"CONVEYOR_STORE" envDefault:"postgres"`

	PostgresURL string `env:"CONVEYOR_POSTGRES_URL" envDefault:"postgres://localhost:5432/conveyor?sslmode=disable"`
	RedisAddr   string `env:"CONVEYOR_REDIS_ADDR" envDefault:"localhost:6379"`

	// Maintenance loop intervals for the maintain command.
	PromoteInterval   time.Duration `env:"CONVEYOR_PROMOTE_INTERVAL" envDefault:"1s"`
	ReapInterval      time.Duration `env:"CONVEYOR_REAP_INTERVAL" envDefault:"15s"`
	RecurringInterval time.Duration `env:"CONVEYOR_RECURRING_INTERVAL" envDefault:"1s"`

	LogLevel slog.Level `env:"CONVEYOR_LOG_LEVEL" envDefault:"info"`
}

// loadConfig reads .env (if present) and parses the environment.
func loadConfig() (config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
