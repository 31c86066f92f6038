// Package config содержит логику чтения конфигурации сервиса проверки выхода.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	LedgerAddress string `env:"LEDGER_ADDRESS"`
	StaffSecret   string `env:"STAFF_SECRET"`

	StaffPassword    string        `env:"STAFF_PASSWORD"`
	LedgerTimeout    time.Duration `env:"LEDGER_TIMEOUT" envDefault:"5s"`
	LedgerRetryMax   int           `env:"LEDGER_RETRY_MAX" envDefault:"2"`
	AutoPayOnline    bool          `env:"AUTO_PAY_ONLINE" envDefault:"true"`
	StoreID          string        `env:"STORE_ID" envDefault:"store-001"`
	ReceiptCacheSize int           `env:"RECEIPT_CACHE_SIZE" envDefault:"1024"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envLedgerAddress := cfg.LedgerAddress
	envStaffSecret := cfg.StaffSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store if empty")
	flag.StringVar(&cfg.LedgerAddress, "l", "", "ledger gateway address, in-memory ledger if empty")
	flag.StringVar(&cfg.StaffSecret, "s", "", "secret for staff cookie signatures")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envLedgerAddress != "" {
		cfg.LedgerAddress = envLedgerAddress
	}
	if envStaffSecret != "" {
		cfg.StaffSecret = envStaffSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.LedgerTimeout <= 0 {
		return nil, fmt.Errorf("LEDGER_TIMEOUT must be positive, got %s", cfg.LedgerTimeout)
	}
	if cfg.LedgerRetryMax < 0 {
		return nil, fmt.Errorf("LEDGER_RETRY_MAX must not be negative, got %d", cfg.LedgerRetryMax)
	}

	return cfg, nil
}
