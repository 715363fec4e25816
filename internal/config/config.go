// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config holds every setting of the server.
type Config struct {
	Port                string
	ProxyURL            string
	StoreDriver         string
	RedisURL            string
	SQLitePath          string
	SessionTTL          time.Duration
	ResultsCacheTTL     time.Duration
	RateLimitPerMinute  int
	PriceRefreshTimeout time.Duration
	PurgeSchedule       string
	SecureCookies       bool
	LogLevel            slog.Level
}

// Load reads an optional .env file and then the environment. Values
// already set in the environment take precedence over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var errs []error
	duration := func(key, def string) time.Duration {
		d, err := cast.ToDurationE(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	integer := func(key, def string) int {
		n, err := cast.ToIntE(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}
	boolean := func(key, def string) bool {
		b, err := cast.ToBoolE(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return b
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		ProxyURL:            getEnv("PROXY_URL", "http://localhost:9001/proxy"),
		StoreDriver:         strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SQLitePath:          getEnv("SQLITE_PATH", "holidays.db"),
		SessionTTL:          duration("SESSION_TTL", "2h"),
		ResultsCacheTTL:     duration("RESULTS_CACHE_TTL", "10m"),
		RateLimitPerMinute:  integer("RATE_LIMIT_PER_MINUTE", "10"),
		PriceRefreshTimeout: duration("PRICE_REFRESH_TIMEOUT", "30s"),
		PurgeSchedule:       getEnv("PURGE_SCHEDULE", "@every 5m"),
		SecureCookies:       boolean("SECURE_COOKIES", "false"),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverRedis, DriverSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, redis, sqlite, got %q", c.StoreDriver)
	}
	if c.ProxyURL == "" {
		return errors.New("PROXY_URL is required")
	}
	if c.StoreDriver == DriverRedis && c.RedisURL == "" {
		return errors.New("REDIS_URL is required for the redis store")
	}
	if c.StoreDriver == DriverSQLite && c.SQLitePath == "" {
		return errors.New("SQLITE_PATH is required for the sqlite store")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.ResultsCacheTTL <= 0 {
		return errors.New("RESULTS_CACHE_TTL must be positive")
	}
	if c.PriceRefreshTimeout <= 0 {
		return errors.New("PRICE_REFRESH_TIMEOUT must be positive")
	}
	return nil
}

// Addr is the listen address of the server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
