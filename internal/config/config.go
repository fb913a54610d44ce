// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds runtime configuration for the costing engine.
type Config struct {
	AppEnv  string `envconfig:"APP_ENV" default:"development"`
	AppPort string `envconfig:"APP_PORT" default:"8080"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"25"`

	// Empty RedisAddr disables distributed lot locks; commits then rely on row locks only.
	RedisAddr string        `envconfig:"REDIS_ADDR" default:""`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"15s"`

	CatalogTTL time.Duration `envconfig:"CATALOG_TTL" default:"5m"`

	DeviationThresholdPercent string `envconfig:"DEVIATION_THRESHOLD_PERCENT" default:"20"`
	BagSize                   string `envconfig:"BAG_SIZE" default:"50"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot check by itself.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be provided")
	}
	if c.CatalogTTL <= 0 {
		return errors.New("config: CATALOG_TTL must be positive")
	}
	threshold, err := decimal.NewFromString(c.DeviationThresholdPercent)
	if err != nil || threshold.IsNegative() {
		return errors.New("config: DEVIATION_THRESHOLD_PERCENT must be a non-negative number")
	}
	bag, err := decimal.NewFromString(c.BagSize)
	if err != nil || !bag.IsPositive() {
		return errors.New("config: BAG_SIZE must be a positive number")
	}
	return nil
}

// DeviationThreshold returns the override deviation threshold in percent.
func (c *Config) DeviationThreshold() decimal.Decimal {
	return decimal.RequireFromString(c.DeviationThresholdPercent)
}

// BagSizeQuantity returns the quantity that fills one bag for per_bag elements.
func (c *Config) BagSizeQuantity() decimal.Decimal {
	return decimal.RequireFromString(c.BagSize)
}

// IsDevelopment reports whether the engine runs with development logging.
func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}
