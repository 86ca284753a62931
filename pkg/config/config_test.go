package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpovdv/folio/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/folio")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 10*time.Minute, cfg.UpdateInterval)
	assert.Equal(t, 300*time.Second, cfg.StatsPersistInterval)
	assert.Equal(t, 30, cfg.LogRetentionDays)
	assert.Equal(t, time.Second, cfg.MinRequestInterval)
	assert.Equal(t, 1800, cfg.HourlyRequestCap)
	assert.Equal(t, 5, cfg.BackfillMaxAttempts)
	assert.Equal(t, 1, cfg.BackfillWorkers)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGrace)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/folio")
	t.Setenv("UPDATE_INTERVAL_MINUTES", "5")
	t.Setenv("PRICE_SOURCE_MIN_INTERVAL_MS", "250")
	t.Setenv("BACKFILL_WORKER_COUNT", "4")
	t.Setenv("LOG_RETENTION_DAYS", "7")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.UpdateInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.MinRequestInterval)
	assert.Equal(t, 4, cfg.BackfillWorkers)
	assert.Equal(t, 7, cfg.LogRetentionDays)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			DatabaseURL:          "postgres://localhost:5432/folio",
			PriceSourceURL:       "https://prices.example.com",
			UpdateInterval:       10 * time.Minute,
			StatsPersistInterval: 300 * time.Second,
			MinRequestInterval:   time.Second,
			HourlyRequestCap:     1800,
			LogRetentionDays:     30,
			BackfillMaxAttempts:  5,
			BackfillWorkers:      1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *config.Config) {},
		},
		{
			name:    "update interval below one minute",
			mutate:  func(c *config.Config) { c.UpdateInterval = 30 * time.Second },
			wantErr: "UPDATE_INTERVAL_MINUTES",
		},
		{
			name:    "zero hourly cap",
			mutate:  func(c *config.Config) { c.HourlyRequestCap = 0 },
			wantErr: "PRICE_SOURCE_HOURLY_CAP",
		},
		{
			name:    "too many backfill workers",
			mutate:  func(c *config.Config) { c.BackfillWorkers = 5 },
			wantErr: "BACKFILL_WORKER_COUNT",
		},
		{
			name:    "zero retention",
			mutate:  func(c *config.Config) { c.LogRetentionDays = 0 },
			wantErr: "LOG_RETENTION_DAYS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
