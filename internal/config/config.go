// Package config содержит логику чтения конфигурации портала.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/supply-portal/internal/ledger"
)

// Config содержит параметры конфигурации портала.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	// AuthSecret подписывает токены доступа. Пустое значение даёт случайный ключ на время жизни процесса.
	AuthSecret  string `env:"AUTH_SECRET"`
	StockPolicy string `env:"STOCK_POLICY"`
	// OverdueSchedule: cron-выражение для пометки просроченных выдач. Пустая строка отключает задачу.
	OverdueSchedule string `env:"OVERDUE_SCHEDULE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing access tokens")
	flag.StringVar(&cfg.StockPolicy, "p", string(ledger.PolicyClamp), "stock policy on over-deduction: clamp or reject")
	flag.StringVar(&cfg.OverdueSchedule, "o", "", "cron schedule for the overdue sweep, empty disables it")

	flag.Parse()

	override(&cfg.RunAddress, fromEnv.RunAddress)
	override(&cfg.DatabaseURI, fromEnv.DatabaseURI)
	override(&cfg.AuthSecret, fromEnv.AuthSecret)
	override(&cfg.StockPolicy, fromEnv.StockPolicy)
	override(&cfg.OverdueSchedule, fromEnv.OverdueSchedule)

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if _, err := ledger.ParsePolicy(cfg.StockPolicy); err != nil {
		return nil, fmt.Errorf("stock policy: %w", err)
	}

	return cfg, nil
}

func override(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}
