package dedupe

import (
	"time"

	"github.com/okian/burnrank/pkg/logger"
)

// Option applies a configuration option to the in-memory deduper.
type Option func(*inMemoryDeduper)

// WithMaxSize sets the maximum number of IDs to keep in memory. Once full
// the oldest id is forgotten first. maxSize <= 0 disables the bound.
func WithMaxSize(maxSize int) Option {
	return func(d *inMemoryDeduper) {
		d.maxSize = maxSize
	}
}

// RedisOption applies a configuration option to the Redis deduper.
type RedisOption func(*redisDeduper)

// WithTTL sets how long an event id is remembered.
func WithTTL(ttl time.Duration) RedisOption {
	return func(d *redisDeduper) {
		if ttl >= time.Second {
			d.ttl = ttl
		}
	}
}

// WithKeyPrefix sets the namespace of dedupe keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(d *redisDeduper) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// WithLogger sets the logger used when Redis cannot be reached.
func WithLogger(l logger.Logger) RedisOption {
	return func(d *redisDeduper) {
		if l != nil {
			d.log = l
		}
	}
}
