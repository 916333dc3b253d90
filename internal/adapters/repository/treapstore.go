package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/burnrank/pkg/metrics"
)

// In-process Store: one treap per key.
//
// Ordering: score DESC, then member id by memberBefore. The BST comparator
// treats "less" as "ranks earlier", so an in-order walk yields the
// leaderboard from best to worst. Subtree sizes give O(log n) rank lookups.

type node struct {
	id    string
	score float64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score float64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: rand.Uint64(), size: 1}
	}
	if ranksBefore(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score float64) *node {
	if n == nil {
		return nil
	}
	if id == n.id {
		// Rotate the higher-priority child up until the node is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	} else if ranksBefore(score, id, n.score, n.id) {
		n.left = deleteNode(n.left, id, score)
	} else {
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit members in rank order.
func collectTopN(n *node, limit int, out *[]Member) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, Member{ID: n.id, Score: n.score})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// rankOf counts the members ranked ahead of (id, score).
func rankOf(n *node, id string, score float64) int {
	rank := 0
	for n != nil {
		if n.id == id {
			return rank + nsize(n.left)
		}
		if ranksBefore(score, id, n.score, n.id) {
			n = n.left
		} else {
			rank += nsize(n.left) + 1
			n = n.right
		}
	}
	return -1
}

// board is one leaderboard key.
type board struct {
	root      *node
	scores    map[string]float64
	expiresAt time.Time // zero means no TTL
}

func newBoard() *board {
	return &board{scores: make(map[string]float64)}
}

func (b *board) expired(now time.Time) bool {
	return !b.expiresAt.IsZero() && !now.Before(b.expiresAt)
}

func (b *board) set(id string, score float64) {
	if old, ok := b.scores[id]; ok {
		b.root = deleteNode(b.root, id, old)
	}
	b.scores[id] = score
	b.root = insert(b.root, id, score)
}

func (b *board) remove(id string) {
	if old, ok := b.scores[id]; ok {
		b.root = deleteNode(b.root, id, old)
		delete(b.scores, id)
	}
}

// TreapStore is an in-process Store with per-key TTLs. Expired keys read as
// empty immediately and are reclaimed by a background sweeper.
type TreapStore struct {
	mu            sync.RWMutex
	boards        map[string]*board
	now           func() time.Time
	sweepInterval time.Duration
	closed        bool

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewTreapStore constructs a treap store and starts its expiry sweeper.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		boards:        make(map[string]*board),
		now:           time.Now,
		sweepInterval: time.Minute,
		stopChan:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.startSweeper(ctx)
	return s
}

func (s *TreapStore) startSweeper(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep drops every expired key and returns how many were removed.
func (s *TreapStore) Sweep() int {
	s.mu.Lock()
	now := s.now()
	removed := 0
	for key, b := range s.boards {
		if b.expired(now) {
			delete(s.boards, key)
			removed++
		}
	}
	live := len(s.boards)
	s.mu.Unlock()

	metrics.UpdateStoreLeaderboards(live)
	return removed
}

// Close stops the sweeper. Later calls fail with ErrStoreUnavailable.
func (s *TreapStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Keys returns the number of live leaderboards.
func (s *TreapStore) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	n := 0
	for _, b := range s.boards {
		if !b.expired(now) {
			n++
		}
	}
	return n
}

// TTL returns the remaining lifetime of key; ok is false for missing keys
// and keys without a TTL.
func (s *TreapStore) TTL(key string) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.readable(key)
	if b == nil || b.expiresAt.IsZero() {
		return 0, false
	}
	return b.expiresAt.Sub(s.now()), true
}

// readable returns a live board or nil. Caller holds at least the read lock.
func (s *TreapStore) readable(key string) *board {
	b, ok := s.boards[key]
	if !ok || b.expired(s.now()) {
		return nil
	}
	return b
}

// writable returns the live board for key, replacing an expired one when
// create is set. Caller holds the write lock.
func (s *TreapStore) writable(key string, create bool) *board {
	b, ok := s.boards[key]
	if ok && b.expired(s.now()) {
		delete(s.boards, key)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		b = newBoard()
		s.boards[key] = b
	}
	return b
}

func (s *TreapStore) dropIfEmpty(key string, b *board) {
	if len(b.scores) == 0 {
		delete(s.boards, key)
	}
}

func (s *TreapStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("treap store: %w: closed", ErrStoreUnavailable)
	}
	return nil
}

// apply runs one mutation. Caller holds the write lock.
func (s *TreapStore) apply(op Op) float64 {
	switch op.Kind {
	case OpIncrement:
		b := s.writable(op.Key, true)
		next := b.scores[op.Member] + op.Score
		b.set(op.Member, next)
		return next
	case OpSetScore:
		s.writable(op.Key, true).set(op.Member, op.Score)
	case OpRemove:
		if b := s.writable(op.Key, false); b != nil {
			b.remove(op.Member)
			s.dropIfEmpty(op.Key, b)
		}
	case OpExpire:
		if b := s.writable(op.Key, false); b != nil {
			if op.TTL <= 0 {
				delete(s.boards, op.Key)
			} else {
				b.expiresAt = s.now().Add(op.TTL)
			}
		}
	}
	return 0
}

func validate(ops []Op) error {
	for i, op := range ops {
		if op.Key == "" {
			return fmt.Errorf("%w: op %d (%s) has no key", ErrInvalidOp, i, op.Kind)
		}
		switch op.Kind {
		case OpIncrement, OpSetScore, OpRemove:
			if op.Member == "" {
				return fmt.Errorf("%w: op %d (%s) has no member", ErrInvalidOp, i, op.Kind)
			}
		case OpExpire:
		default:
			return fmt.Errorf("%w: op %d has kind %d", ErrInvalidOp, i, op.Kind)
		}
	}
	return nil
}

// Exec applies every op under a single lock, so a batch is atomic here.
func (s *TreapStore) Exec(ctx context.Context, ops ...Op) (err error) {
	defer observe("exec", time.Now(), &err)
	if err := validate(ops); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("treap store: %w: %w", ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, op := range ops {
		s.apply(op)
	}
	return nil
}

// Increment implements Store.
func (s *TreapStore) Increment(_ context.Context, key, member string, delta float64) (score float64, err error) {
	defer observe("increment", time.Now(), &err)
	op := IncrementOp(key, member, delta)
	if err := validate([]Op{op}); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.apply(op), nil
}

// SetScore implements Store.
func (s *TreapStore) SetScore(ctx context.Context, key, member string, score float64) error {
	return s.Exec(ctx, SetScoreOp(key, member, score))
}

// Remove implements Store.
func (s *TreapStore) Remove(ctx context.Context, key, member string) error {
	return s.Exec(ctx, RemoveOp(key, member))
}

// Expire implements Store.
func (s *TreapStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.Exec(ctx, ExpireOp(key, ttl))
}

// TopN implements Store in O(log n + n).
func (s *TreapStore) TopN(_ context.Context, key string, n int) (out []Member, err error) {
	defer observe("top_n", time.Now(), &err)
	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	b := s.readable(key)
	if b == nil {
		return []Member{}, nil
	}
	out = make([]Member, 0, min(n, len(b.scores)))
	collectTopN(b.root, n, &out)
	return out, nil
}

// RankOf implements Store in O(log n).
func (s *TreapStore) RankOf(_ context.Context, key, member string) (rank int64, ok bool, err error) {
	defer observe("rank_of", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}
	b := s.readable(key)
	if b == nil {
		return 0, false, nil
	}
	score, found := b.scores[member]
	if !found {
		return 0, false, nil
	}
	r := rankOf(b.root, member, score)
	if r < 0 {
		return 0, false, nil
	}
	return int64(r), true, nil
}

// ScoreOf implements Store.
func (s *TreapStore) ScoreOf(_ context.Context, key, member string) (score float64, ok bool, err error) {
	defer observe("score_of", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}
	b := s.readable(key)
	if b == nil {
		return 0, false, nil
	}
	score, ok = b.scores[member]
	return score, ok, nil
}

// Ping implements Store.
func (s *TreapStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen()
}
