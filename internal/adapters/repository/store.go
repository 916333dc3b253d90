// Package repository provides the ordered score stores backing the leaderboards.
package repository

import (
	"context"
	"time"

	"github.com/okian/burnrank/pkg/metrics"
)

// Member is one leaderboard row as held by the store.
type Member struct {
	ID    string
	Score float64
}

// OpKind identifies a mutating operation inside an Exec batch.
type OpKind uint8

// Batchable operations.
const (
	OpIncrement OpKind = iota + 1
	OpSetScore
	OpRemove
	OpExpire
)

func (k OpKind) String() string {
	switch k {
	case OpIncrement:
		return "increment"
	case OpSetScore:
		return "set_score"
	case OpRemove:
		return "remove"
	case OpExpire:
		return "expire"
	}
	return "unknown"
}

// Op is a single mutation in a batch. Score carries the delta for
// OpIncrement and the absolute score for OpSetScore.
type Op struct {
	Kind   OpKind
	Key    string
	Member string
	Score  float64
	TTL    time.Duration
}

// IncrementOp adds delta to member's score in key.
func IncrementOp(key, member string, delta float64) Op {
	return Op{Kind: OpIncrement, Key: key, Member: member, Score: delta}
}

// SetScoreOp overwrites member's score in key.
func SetScoreOp(key, member string, score float64) Op {
	return Op{Kind: OpSetScore, Key: key, Member: member, Score: score}
}

// RemoveOp deletes member from key.
func RemoveOp(key, member string) Op {
	return Op{Kind: OpRemove, Key: key, Member: member}
}

// ExpireOp sets the time-to-live of the whole key.
func ExpireOp(key string, ttl time.Duration) Op {
	return Op{Kind: OpExpire, Key: key, TTL: ttl}
}

// Store is an ordered key -> (member -> score) collection with sorted-set
// semantics. Every mutation is atomic per key; Exec batches several
// mutations into one round trip but is not a cross-key transaction.
//
// Ordering is score descending; equal scores rank lower numeric member ids
// first (see ranksBefore).
type Store interface {
	// Increment atomically adds delta to member's score, creating it if absent.
	Increment(ctx context.Context, key, member string, delta float64) (float64, error)

	// TopN returns up to n members ordered by rank. Returns ErrInvalidLimit if n < 1.
	TopN(ctx context.Context, key string, n int) ([]Member, error)

	// RankOf returns member's 0-based rank; ok is false when member has no score.
	RankOf(ctx context.Context, key, member string) (rank int64, ok bool, err error)

	// ScoreOf returns member's score; ok is false when member has no score.
	ScoreOf(ctx context.Context, key, member string) (score float64, ok bool, err error)

	// Remove deletes member from key.
	Remove(ctx context.Context, key, member string) error

	// SetScore overwrites member's score unconditionally.
	SetScore(ctx context.Context, key, member string, score float64) error

	// Expire sets or refreshes the TTL of the whole key. It is a no-op on missing keys.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Exec applies ops in order as one batch.
	Exec(ctx context.Context, ops ...Op) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// observe records a store call. It reads *err when the deferred call runs.
func observe(op string, start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
	}
	metrics.RecordStoreOperation(op, status, float64(time.Since(start).Microseconds())/1000)
}
