package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"github.com/hscopalm/shareable-wishlists/internal/models"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	TelegramToken   string
	DatabaseURL     string
	StorageBackend  string
	MigrationsPath  string
	LogLevel        string
	PrometheusPort  string
	Port            string
	ClaimMaxRetries int
	PendingShareTTL time.Duration
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment variables
// take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	cfg := &Config{
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StorageBackend: getEnvOrDefault("STORAGE_BACKEND", BackendPostgres),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", "migrations"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		PrometheusPort: getEnvOrDefault("PROMETHEUS_PORT", "9090"),
		Port:           getEnvOrDefault("PORT", "8080"),
	}

	var result *multierror.Error

	var err error
	if cfg.ClaimMaxRetries, err = getEnvInt("CLAIM_MAX_RETRIES", 3); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.PendingShareTTL, err = getEnvDuration("PENDING_SHARE_TTL", models.PendingShareTTL); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.SweepInterval, err = getEnvDuration("PENDING_SWEEP_INTERVAL", time.Hour); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		result = multierror.Append(result, err)
	}

	if err := cfg.Validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field combinations that cannot be caught while parsing.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.StorageBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			result = multierror.Append(result, fmt.Errorf("DATABASE_URL environment variable is required for the %s backend", BackendPostgres))
		}
	case BackendMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.StorageBackend))
	}

	if c.ClaimMaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("CLAIM_MAX_RETRIES must not be negative"))
	}
	if c.PendingShareTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("PENDING_SHARE_TTL must be positive"))
	}
	if c.SweepInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("PENDING_SWEEP_INTERVAL must be positive"))
	}
	if c.Port == "" {
		result = multierror.Append(result, fmt.Errorf("PORT must not be empty"))
	}

	return result.ErrorOrNil()
}

// TelegramEnabled reports whether the bot should be started.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != ""
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
