package repository

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/okian/burnrank/pkg/logger"
)

// RedisStore is a Store over Redis sorted sets. It works with both the
// single-node and the cluster rueidis client.
//
// Redis orders equal scores by member bytes, so TopN and RankOf resolve the
// tie group at the boundary themselves to keep the numeric id ordering used
// by every Store. That costs one read of the whole tie group: O(t) replies
// for t members sharing the boundary score. Zero-calorie users form the
// largest such group in practice.
type RedisStore struct {
	client     rueidis.Client
	log        logger.Logger
	ownsClient bool
}

// NewRedisStore wraps an existing client. The caller keeps ownership of the
// client unless WithOwnedClient is given.
func NewRedisStore(client rueidis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		log:    logger.Get().Named("redis-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// classify maps a client error onto the store error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := rueidis.IsRedisErr(err); ok {
		return fmt.Errorf("redis %s: %w: %w", op, ErrStoreCommand, err)
	}
	return fmt.Errorf("redis %s: %w: %w", op, ErrStoreUnavailable, err)
}

func formatScore(score float64) string {
	switch {
	case math.IsInf(score, 1):
		return "+inf"
	case math.IsInf(score, -1):
		return "-inf"
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}

func (s *RedisStore) build(op Op) rueidis.Completed {
	b := s.client.B()
	switch op.Kind {
	case OpIncrement:
		return b.Zincrby().Key(op.Key).Increment(op.Score).Member(op.Member).Build()
	case OpSetScore:
		return b.Zadd().Key(op.Key).ScoreMember().ScoreMember(op.Score, op.Member).Build()
	case OpRemove:
		return b.Zrem().Key(op.Key).Member(op.Member).Build()
	default:
		if op.TTL <= 0 {
			return b.Del().Key(op.Key).Build()
		}
		return b.Expire().Key(op.Key).Seconds(ttlSeconds(op.TTL)).Build()
	}
}

// Increment implements Store with ZINCRBY.
func (s *RedisStore) Increment(ctx context.Context, key, member string, delta float64) (score float64, err error) {
	defer observe("increment", time.Now(), &err)
	op := IncrementOp(key, member, delta)
	if err := validate([]Op{op}); err != nil {
		return 0, err
	}
	score, err = s.client.Do(ctx, s.build(op)).AsFloat64()
	return score, classify("zincrby", err)
}

// SetScore implements Store with ZADD.
func (s *RedisStore) SetScore(ctx context.Context, key, member string, score float64) error {
	return s.single(ctx, "zadd", SetScoreOp(key, member, score))
}

// Remove implements Store with ZREM.
func (s *RedisStore) Remove(ctx context.Context, key, member string) error {
	return s.single(ctx, "zrem", RemoveOp(key, member))
}

// Expire implements Store with EXPIRE. A non-positive ttl deletes the key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.single(ctx, "expire", ExpireOp(key, ttl))
}

func (s *RedisStore) single(ctx context.Context, name string, op Op) (err error) {
	defer observe(name, time.Now(), &err)
	if err := validate([]Op{op}); err != nil {
		return err
	}
	return classify(name, s.client.Do(ctx, s.build(op)).Error())
}

// Exec pipelines ops in one DoMulti round trip. The batch is not atomic:
// keys of one event land in different cluster slots, so every reply is
// checked and the first failure is returned after the rest were sent.
func (s *RedisStore) Exec(ctx context.Context, ops ...Op) (err error) {
	defer observe("exec", time.Now(), &err)
	if err := validate(ops); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, 0, len(ops))
	for _, op := range ops {
		cmds = append(cmds, s.build(op))
	}

	for i, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			s.log.Warn(ctx, "pipelined command failed",
				logger.String("op", ops[i].Kind.String()),
				logger.String("key", ops[i].Key),
				logger.Error(err))
			return classify(ops[i].Kind.String(), err)
		}
	}
	return nil
}

// TopN implements Store. ZREVRANGE returns the head; members tied with the
// last row are fetched with ZRANGEBYSCORE so the cut lands on the right ids.
// The tie fetch is unbounded because Redis cannot order the group numerically.
func (s *RedisStore) TopN(ctx context.Context, key string, n int) (out []Member, err error) {
	defer observe("top_n", time.Now(), &err)
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	head, err := s.client.Do(ctx, s.client.B().Zrevrange().Key(key).
		Start(0).Stop(int64(n-1)).Withscores().Build()).AsZScores()
	if err != nil {
		return nil, classify("zrevrange", err)
	}

	out = make([]Member, 0, len(head))
	if len(head) < n {
		for _, z := range head {
			out = append(out, Member{ID: z.Member, Score: z.Score})
		}
		sortMembers(out)
		return out, nil
	}

	boundary := head[len(head)-1].Score
	for _, z := range head {
		if z.Score > boundary {
			out = append(out, Member{ID: z.Member, Score: z.Score})
		}
	}

	edge := formatScore(boundary)
	tied, err := s.client.Do(ctx, s.client.B().Zrangebyscore().Key(key).
		Min(edge).Max(edge).Build()).AsStrSlice()
	if err != nil {
		return nil, classify("zrangebyscore", err)
	}
	for _, id := range tied {
		out = append(out, Member{ID: id, Score: boundary})
	}

	sortMembers(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// RankOf implements Store: members strictly above plus tied members ordered
// ahead of member. The tied members are read in full.
func (s *RedisStore) RankOf(ctx context.Context, key, member string) (rank int64, ok bool, err error) {
	defer observe("rank_of", time.Now(), &err)

	score, ok, err := s.scoreOf(ctx, key, member)
	if err != nil || !ok {
		return 0, false, err
	}

	edge := formatScore(score)
	resps := s.client.DoMulti(ctx,
		s.client.B().Zcount().Key(key).Min("("+edge).Max("+inf").Build(),
		s.client.B().Zrangebyscore().Key(key).Min(edge).Max(edge).Build(),
	)
	above, err := resps[0].AsInt64()
	if err != nil {
		return 0, false, classify("zcount", err)
	}
	tied, err := resps[1].AsStrSlice()
	if err != nil {
		return 0, false, classify("zrangebyscore", err)
	}

	rank = above
	for _, id := range tied {
		if id != member && memberBefore(id, member) {
			rank++
		}
	}
	return rank, true, nil
}

// ScoreOf implements Store with ZSCORE.
func (s *RedisStore) ScoreOf(ctx context.Context, key, member string) (score float64, ok bool, err error) {
	defer observe("score_of", time.Now(), &err)
	return s.scoreOf(ctx, key, member)
}

func (s *RedisStore) scoreOf(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := s.client.Do(ctx, s.client.B().Zscore().Key(key).Member(member).Build()).AsFloat64()
	if rueidis.IsRedisNil(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify("zscore", err)
	}
	return score, true, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return classify("ping", s.client.Do(ctx, s.client.B().Ping().Build()).Error())
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if s.ownsClient {
		s.client.Close()
	}
	return nil
}
