// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/redis/rueidis"

	eventqueue "github.com/okian/burnrank/internal/adapters/mq/queue"
	workerpool "github.com/okian/burnrank/internal/adapters/mq/worker"
	"github.com/okian/burnrank/internal/adapters/redis"
	"github.com/okian/burnrank/internal/adapters/repository"
	"github.com/okian/burnrank/internal/domain/dedupe"
	"github.com/okian/burnrank/internal/domain/model"
	"github.com/okian/burnrank/internal/domain/ranking"
	"github.com/okian/burnrank/internal/domain/types"
	"github.com/okian/burnrank/pkg/logger"
	"github.com/okian/burnrank/pkg/metrics"
)

// Backends accepted by WithStoreBackend and WithDedupeBackend.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ErrNotStarted is returned by operations that need a started service.
var ErrNotStarted = errors.New("service not started")

// ErrUnknownBackend is returned by Start for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown backend")

// Service implements the API dependencies for the ranking system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	redis      rueidis.Client
	deduper    dedupe.Deduper
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	ranker     *ranking.Ranker

	// Configuration
	workerCount   int
	queueSize     int
	dedupeSize    int
	dedupeTTL     time.Duration
	storeBackend  string
	dedupeBackend string
	redisCfg      redis.Config
	retention     ranking.Retention
	defaultLimit  int
	maxLimit      int
	loc           *time.Location
	now           func() time.Time

	// State
	started    bool
	ownsStore  bool
	ownsRedis  bool
	cancelRuns context.CancelFunc

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:   runtime.NumCPU() * 4,
		queueSize:     100_000,
		dedupeSize:    500_000,
		dedupeTTL:     24 * time.Hour,
		storeBackend:  BackendMemory,
		dedupeBackend: BackendMemory,
		retention:     ranking.DefaultRetention(),
		defaultLimit:  10,
		maxLimit:      100,
		loc:           time.UTC,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	return s
}

// Start builds the store, deduper, queue, ranker and worker pool and starts
// the workers. Workers outlive ctx; they stop in Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting ranking service...",
		logger.String("store_backend", s.storeBackend),
		logger.String("dedupe_backend", s.dedupeBackend))

	if err := s.openStore(ctx); err != nil {
		s.release(ctx)
		return err
	}
	if err := s.openDeduper(ctx); err != nil {
		s.release(ctx)
		return err
	}

	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.ranker = ranking.NewRanker(s.store,
		ranking.WithRetention(s.retention),
		ranking.WithLogger(s.logger.Named("ranking")),
	)
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.ranker)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelRuns = cancel
	s.workerPool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "ranking service started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.String("timezone", s.loc.String()),
	)
	return nil
}

func (s *Service) redisClient(ctx context.Context) (rueidis.Client, error) {
	if s.redis != nil {
		return s.redis, nil
	}
	client, err := redis.Connect(ctx, s.redisCfg)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	s.redis = client
	s.ownsRedis = true
	return client, nil
}

func (s *Service) openStore(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	switch strings.ToLower(s.storeBackend) {
	case BackendRedis:
		client, err := s.redisClient(ctx)
		if err != nil {
			return err
		}
		s.store = repository.NewRedisStore(client,
			repository.WithRedisLogger(s.logger.Named("redis-store")))
	case BackendMemory:
		s.store = repository.NewTreapStore(context.WithoutCancel(ctx))
	default:
		return fmt.Errorf("%w: store %q", ErrUnknownBackend, s.storeBackend)
	}
	s.ownsStore = true
	return nil
}

func (s *Service) openDeduper(ctx context.Context) error {
	switch strings.ToLower(s.dedupeBackend) {
	case BackendRedis:
		client, err := s.redisClient(ctx)
		if err != nil {
			return err
		}
		s.deduper = dedupe.NewRedisDeduper(client,
			dedupe.WithTTL(s.dedupeTTL),
			dedupe.WithLogger(s.logger.Named("dedupe")))
	case BackendMemory:
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	default:
		return fmt.Errorf("%w: dedupe %q", ErrUnknownBackend, s.dedupeBackend)
	}
	return nil
}

// release closes what the service opened itself.
func (s *Service) release(ctx context.Context) {
	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "error closing store", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}
	if s.ownsRedis && s.redis != nil {
		s.redis.Close()
		s.redis = nil
		s.ownsRedis = false
	}
}

// Stop stops intake, waits for queued events to be recorded or ctx to end,
// then releases the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping ranking service...")

	err := s.workerPool.Shutdown(ctx)
	if err != nil {
		s.logger.Warn(ctx, "workers did not drain before deadline",
			logger.Int("queueLength", s.eventQueue.Len(ctx)),
			logger.Error(err))
	}
	s.cancelRuns()
	s.release(ctx)

	s.started = false
	s.logger.Info(ctx, "ranking service stopped",
		logger.Int64("processed", s.workerPool.Processed()),
		logger.Int64("failed", s.workerPool.Failed()))
	return err
}

// Today returns the current date in the configured zone.
func (s *Service) Today() time.Time {
	return s.now().In(s.loc)
}

// Location returns the zone used to resolve dates.
func (s *Service) Location() *time.Location { return s.loc }

// Limits returns the default and maximum leaderboard page sizes.
func (s *Service) Limits() (defaultLimit, maxLimit int) {
	return s.defaultLimit, s.maxLimit
}

func (s *Service) running() (*ranking.Ranker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.ranker, nil
}

// SeenAndRecord atomically checks if an event id was seen and records it if not.
// Returns true if the event was already seen, false if it was newly recorded.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	s.mu.RLock()
	d := s.deduper
	s.mu.RUnlock()
	if d == nil {
		return false
	}
	seen := d.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordEventDuplicate()
	}
	return seen
}

// Unrecord removes an event ID from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.mu.RLock()
	d := s.deduper
	s.mu.RUnlock()
	if d != nil {
		d.Unrecord(ctx, id)
	}
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue validates ev and hands it to the workers without waiting for the
// leaderboards to change. It fails with queue.ErrFull under backpressure.
func (s *Service) Enqueue(ctx context.Context, ev model.ExerciseEvent) error {
	if _, err := s.running(); err != nil {
		return err
	}
	if err := ranking.ValidateEvent(ev); err != nil {
		return err
	}
	if err := s.eventQueue.Enqueue(ctx, ev); err != nil {
		return fmt.Errorf("enqueue event %s: %w", ev.EventID, err)
	}
	s.logger.Debug(ctx, "event enqueued",
		logger.String("event_id", ev.EventID),
		logger.Int64("user_id", ev.UserID))
	return nil
}

// RecordEvent applies ev synchronously, bypassing the queue.
func (s *Service) RecordEvent(ctx context.Context, ev model.ExerciseEvent) error {
	r, err := s.running()
	if err != nil {
		return err
	}
	return r.RecordEvent(ctx, ev)
}

func (s *Service) resolve(q ranking.Query) ranking.Query {
	if q.Date.IsZero() {
		q.Date = s.Today()
	}
	if q.Limit == 0 {
		q.Limit = s.defaultLimit
	}
	return q
}

// TopRankings returns the selected leaderboard's top entries. A zero date
// means today and a zero limit means the default page size.
func (s *Service) TopRankings(ctx context.Context, q ranking.Query) ([]types.Entry, error) {
	r, err := s.running()
	if err != nil {
		return nil, err
	}
	return r.TopRankings(ctx, s.resolve(q))
}

// UserRanking returns one user's standing on the selected leaderboard.
func (s *Service) UserRanking(ctx context.Context, userID int64, q ranking.Query) (types.UserRanking, error) {
	r, err := s.running()
	if err != nil {
		return types.UserRanking{UserID: userID}, err
	}
	return r.UserRanking(ctx, userID, s.resolve(q))
}

// MigrateCategory moves the user's current-bucket scores to the new
// category. A zero AsOf means today.
func (s *Service) MigrateCategory(ctx context.Context, ch model.CategoryChange) (ranking.MigrationReport, error) {
	r, err := s.running()
	if err != nil {
		return ranking.MigrationReport{UserID: ch.UserID, From: ch.OldCategory, To: ch.NewCategory}, err
	}
	if ch.AsOf.IsZero() {
		ch.AsOf = s.Today()
	}
	return r.MigrateCategory(ctx, ch)
}

// Ready reports whether the score store answers.
func (s *Service) Ready(ctx context.Context) error {
	s.mu.RLock()
	store := s.store
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":       s.started,
		"storeBackend":  s.storeBackend,
		"dedupeBackend": s.dedupeBackend,
		"workerCount":   s.workerCount,
		"queueCapacity": s.queueSize,
		"timezone":      s.loc.String(),
	}

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["workerCount"] = s.workerPool.Size()
		stats["eventsProcessed"] = s.workerPool.Processed()
		stats["eventsFailed"] = s.workerPool.Failed()
		stats["dedupeEntries"] = s.deduper.Size()

		if counter, ok := s.store.(interface{ Keys() int }); ok {
			boards := counter.Keys()
			stats["leaderboards"] = boards
			metrics.UpdateStoreLeaderboards(boards)
		}
		metrics.UpdateWorkerCount(s.workerPool.Size())
	}

	return stats
}
