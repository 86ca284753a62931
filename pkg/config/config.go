package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the fetcher daemon
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string

	// Redis configuration (optional; empty URL disables price caching)
	RedisURL      string
	RedisPassword string

	// Price source configuration
	PriceSourceURL       string
	PriceSourceUserAgent string
	PriceSourceTimeout   time.Duration
	MinRequestInterval   time.Duration
	HourlyRequestCap     int

	// Refresh and maintenance cadence
	UpdateInterval       time.Duration
	StatsPersistInterval time.Duration
	LogRetentionDays     int

	// Backfill configuration
	BackfillMaxAttempts int
	BackfillWorkers     int

	// Shutdown configuration
	ShutdownGrace time.Duration
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  getEnv("ENV", "development"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		PriceSourceURL:       getEnv("PRICE_SOURCE_URL", "https://query1.finance.yahoo.com"),
		PriceSourceUserAgent: getEnv("PRICE_SOURCE_USER_AGENT", "folio-fetcher/1.0"),
		PriceSourceTimeout:   time.Duration(getEnvAsInt("PRICE_SOURCE_TIMEOUT_SECONDS", 30)) * time.Second,
		MinRequestInterval:   time.Duration(getEnvAsInt("PRICE_SOURCE_MIN_INTERVAL_MS", 1000)) * time.Millisecond,
		HourlyRequestCap:     getEnvAsInt("PRICE_SOURCE_HOURLY_CAP", 1800),
		UpdateInterval:       time.Duration(getEnvAsInt("UPDATE_INTERVAL_MINUTES", 10)) * time.Minute,
		StatsPersistInterval: time.Duration(getEnvAsInt("STATS_PERSIST_INTERVAL_SECONDS", 300)) * time.Second,
		LogRetentionDays:     getEnvAsInt("LOG_RETENTION_DAYS", 30),
		BackfillMaxAttempts:  getEnvAsInt("BACKFILL_MAX_ATTEMPTS", 5),
		BackfillWorkers:      getEnvAsInt("BACKFILL_WORKER_COUNT", 1),
		ShutdownGrace:        time.Duration(getEnvAsInt("SHUTDOWN_GRACE_SECONDS", 30)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present and sane
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.PriceSourceURL == "" {
		return fmt.Errorf("PRICE_SOURCE_URL is required")
	}

	if c.UpdateInterval < time.Minute {
		return fmt.Errorf("UPDATE_INTERVAL_MINUTES must be at least 1")
	}

	if c.MinRequestInterval <= 0 {
		return fmt.Errorf("PRICE_SOURCE_MIN_INTERVAL_MS must be positive")
	}

	if c.HourlyRequestCap < 1 {
		return fmt.Errorf("PRICE_SOURCE_HOURLY_CAP must be at least 1")
	}

	if c.LogRetentionDays < 1 {
		return fmt.Errorf("LOG_RETENTION_DAYS must be at least 1")
	}

	if c.StatsPersistInterval < time.Second {
		return fmt.Errorf("STATS_PERSIST_INTERVAL_SECONDS must be at least 1")
	}

	if c.BackfillMaxAttempts < 1 {
		return fmt.Errorf("BACKFILL_MAX_ATTEMPTS must be at least 1")
	}

	if c.BackfillWorkers < 1 || c.BackfillWorkers > 4 {
		return fmt.Errorf("BACKFILL_WORKER_COUNT must be between 1 and 4")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
