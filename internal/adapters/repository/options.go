package repository

import (
	"time"

	"github.com/okian/burnrank/pkg/logger"
)

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithSweepInterval sets how often expired leaderboards are reclaimed.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *TreapStore) {
		if interval > 0 {
			s.sweepInterval = interval
		}
	}
}

// WithClock replaces time.Now for TTL bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *TreapStore) {
		if now != nil {
			s.now = now
		}
	}
}

// RedisOption applies a configuration option to the RedisStore.
type RedisOption func(*RedisStore)

// WithRedisLogger sets the logger used for command failures.
func WithRedisLogger(l logger.Logger) RedisOption {
	return func(s *RedisStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithOwnedClient makes Close also close the underlying client.
func WithOwnedClient() RedisOption {
	return func(s *RedisStore) {
		s.ownsClient = true
	}
}
