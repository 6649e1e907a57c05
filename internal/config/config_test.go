package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TELEGRAM_TOKEN", "DATABASE_URL", "STORAGE_BACKEND", "MIGRATIONS_PATH",
		"LOG_LEVEL", "PROMETHEUS_PORT", "PORT", "CLAIM_MAX_RETRIES",
		"PENDING_SHARE_TTL", "PENDING_SWEEP_INTERVAL", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", BackendMemory)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "9090", cfg.PrometheusPort)
	assert.Equal(t, "migrations", cfg.MigrationsPath)
	assert.Equal(t, 3, cfg.ClaimMaxRetries)
	assert.Equal(t, 30*24*time.Hour, cfg.PendingShareTTL)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.False(t, cfg.TelegramEnabled())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/wishlists")
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("CLAIM_MAX_RETRIES", "5")
	t.Setenv("PENDING_SHARE_TTL", "72h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.StorageBackend)
	assert.Equal(t, 5, cfg.ClaimMaxRetries)
	assert.Equal(t, 72*time.Hour, cfg.PendingShareTTL)
	assert.True(t, cfg.TelegramEnabled())
}

func TestLoadCollectsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLAIM_MAX_RETRIES", "many")
	t.Setenv("PENDING_SWEEP_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLAIM_MAX_RETRIES")
	assert.Contains(t, err.Error(), "PENDING_SWEEP_INTERVAL")
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StorageBackend:  BackendMemory,
			Port:            "8080",
			ClaimMaxRetries: 3,
			PendingShareTTL: time.Hour,
			SweepInterval:   time.Minute,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "unknown backend", mutate: func(c *Config) { c.StorageBackend = "mongo" }},
		{name: "postgres without url", mutate: func(c *Config) { c.StorageBackend = BackendPostgres }},
		{name: "negative retries", mutate: func(c *Config) { c.ClaimMaxRetries = -1 }},
		{name: "zero ttl", mutate: func(c *Config) { c.PendingShareTTL = 0 }},
		{name: "empty port", mutate: func(c *Config) { c.Port = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
