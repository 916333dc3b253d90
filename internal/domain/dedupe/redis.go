package dedupe

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/rueidis"

	"github.com/okian/burnrank/pkg/logger"
	"github.com/okian/burnrank/pkg/metrics"
)

const (
	defaultTTL    = 24 * time.Hour
	defaultPrefix = "burnrank:dedupe:"
)

// redisDeduper shares one idempotency window between processes with
// SET key 1 NX EX ttl. When Redis is unreachable it fails open: the event
// is treated as new, so a retry during an outage may count twice.
type redisDeduper struct {
	client rueidis.Client
	ttl    time.Duration
	prefix string
	log    logger.Logger
	size   atomic.Int64 // ids recorded by this process
}

// NewRedisDeduper creates a deduper backed by client.
func NewRedisDeduper(client rueidis.Client, opts ...RedisOption) Deduper {
	d := &redisDeduper{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		log:    logger.Named("dedupe"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *redisDeduper) key(id string) string { return d.prefix + id }

func (d *redisDeduper) SeenAndRecord(ctx context.Context, id string) bool {
	cmd := d.client.B().Set().Key(d.key(id)).Value("1").Nx().ExSeconds(int64(d.ttl / time.Second)).Build()
	err := d.client.Do(ctx, cmd).Error()
	switch {
	case err == nil:
		d.size.Add(1)
		return false
	case rueidis.IsRedisNil(err):
		return true
	}

	metrics.RecordErrorByComponent("dedupe", "redis")
	d.log.Warn(ctx, "dedupe check failed, accepting event",
		logger.String("event_id", id),
		logger.Error(err))
	return false
}

func (d *redisDeduper) Unrecord(ctx context.Context, id string) {
	n, err := d.client.Do(ctx, d.client.B().Del().Key(d.key(id)).Build()).AsInt64()
	if err != nil {
		metrics.RecordErrorByComponent("dedupe", "redis")
		d.log.Warn(ctx, "dedupe unrecord failed",
			logger.String("event_id", id),
			logger.Error(err))
		return
	}
	if n > 0 {
		d.size.Add(-1)
	}
}

// Size returns the number of ids this process recorded and did not
// unrecord. Expiry in Redis is not reflected.
func (d *redisDeduper) Size() int64 {
	return d.size.Load()
}
