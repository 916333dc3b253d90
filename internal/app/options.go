package service

import (
	"time"

	"github.com/redis/rueidis"

	"github.com/okian/burnrank/internal/adapters/redis"
	"github.com/okian/burnrank/internal/adapters/repository"
	"github.com/okian/burnrank/internal/domain/ranking"
	"github.com/okian/burnrank/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the in-memory deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDedupeTTL sets how long the redis deduper remembers an event id.
func WithDedupeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.dedupeTTL = ttl
		}
	}
}

// WithStoreBackend selects "redis" or "memory" leaderboards.
func WithStoreBackend(backend string) Option {
	return func(s *Service) {
		if backend != "" {
			s.storeBackend = backend
		}
	}
}

// WithDedupeBackend selects "redis" or "memory" deduplication.
func WithDedupeBackend(backend string) Option {
	return func(s *Service) {
		if backend != "" {
			s.dedupeBackend = backend
		}
	}
}

// WithRedisConfig sets how to reach Redis when a backend needs it.
func WithRedisConfig(cfg redis.Config) Option {
	return func(s *Service) {
		s.redisCfg = cfg
	}
}

// WithRedisClient supplies an existing client instead of dialing one.
// The service does not close a supplied client.
func WithRedisClient(client rueidis.Client) Option {
	return func(s *Service) {
		s.redis = client
	}
}

// WithStore supplies the score store directly, bypassing the store backend.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithRetention sets the per-period leaderboard TTLs.
func WithRetention(r ranking.Retention) Option {
	return func(s *Service) {
		s.retention = r
	}
}

// WithLeaderboardLimits sets the default and maximum page sizes.
func WithLeaderboardLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if defaultLimit > 0 && defaultLimit <= s.maxLimit {
			s.defaultLimit = defaultLimit
		}
	}
}

// WithLocation sets the zone used to resolve "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
