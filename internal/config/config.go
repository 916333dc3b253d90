// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config populated with defaults.
// - Load layers a YAML file and environment variables on top of the defaults.
// - Errors wrap ErrLoadConfig or ErrInvalidConfig so callers can use errors.Is.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Store and dedupe backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: json or text.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreBackend selects where leaderboards live: redis or memory.
	StoreBackend string `koanf:"store_backend"`

	RedisAddr           string        `koanf:"redis_addr"`
	RedisUsername       string        `koanf:"redis_username"`
	RedisPassword       string        `koanf:"redis_password"`
	RedisDB             int           `koanf:"redis_db"`
	RedisDialTimeout    time.Duration `koanf:"redis_dial_timeout"`
	RedisConnectRetries uint64        `koanf:"redis_connect_retries"`

	// EventQueueSize bounds the in-memory event queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of ranking workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeBackend selects the idempotency window store: redis or memory.
	DedupeBackend string `koanf:"dedupe_backend"`

	// DedupeSize bounds the in-memory deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// DedupeTTL is how long the redis deduper remembers an event id.
	DedupeTTL time.Duration `koanf:"dedupe_ttl"`

	// MaxLeaderboardLimit caps GET /rankings?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// DefaultLeaderboardLimit applies when limit is omitted.
	DefaultLeaderboardLimit int `koanf:"default_leaderboard_limit"`

	// Retention per leaderboard period, refreshed on every write.
	RetentionDay   time.Duration `koanf:"retention_day"`
	RetentionMonth time.Duration `koanf:"retention_month"`
	RetentionYear  time.Duration `koanf:"retention_year"`

	// Timezone is the IANA zone used to resolve "today".
	Timezone string `koanf:"timezone"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "json",
		Addr:                    ":9080",
		StoreBackend:            BackendRedis,
		RedisAddr:               "localhost:6379",
		RedisDialTimeout:        5 * time.Second,
		RedisConnectRetries:     5,
		EventQueueSize:          100_000,
		WorkerCount:             runtime.NumCPU() * 4,
		DedupeBackend:           BackendMemory,
		DedupeSize:              500_000,
		DedupeTTL:               24 * time.Hour,
		MaxLeaderboardLimit:     100,
		DefaultLeaderboardLimit: 10,
		RetentionDay:            7 * 24 * time.Hour,
		RetentionMonth:          60 * 24 * time.Hour,
		RetentionYear:           365 * 24 * time.Hour,
		Timezone:                "UTC",
	}
}

// Location resolves Timezone. Call Validate first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case !validBackend(c.StoreBackend):
		return fmt.Errorf("%w: unknown store_backend %q", ErrInvalidConfig, c.StoreBackend)
	case !validBackend(c.DedupeBackend):
		return fmt.Errorf("%w: unknown dedupe_backend %q", ErrInvalidConfig, c.DedupeBackend)
	case (c.StoreBackend == BackendRedis || c.DedupeBackend == BackendRedis) && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr must not be empty", ErrInvalidConfig)
	case c.EventQueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit < 1:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	case c.DefaultLeaderboardLimit < 1 || c.DefaultLeaderboardLimit > c.MaxLeaderboardLimit:
		return fmt.Errorf("%w: default_leaderboard_limit must be in [1, %d]", ErrInvalidConfig, c.MaxLeaderboardLimit)
	case c.RetentionDay <= 0 || c.RetentionMonth <= 0 || c.RetentionYear <= 0:
		return fmt.Errorf("%w: retention must be positive", ErrInvalidConfig)
	case c.DedupeBackend == BackendRedis && c.DedupeTTL < time.Second:
		return fmt.Errorf("%w: dedupe_ttl must be at least 1s", ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Timezone, err)
	}
	return nil
}

func validBackend(b string) bool {
	switch strings.ToLower(b) {
	case BackendRedis, BackendMemory:
		return true
	}
	return false
}
