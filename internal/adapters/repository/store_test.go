package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"testing"
	"time"

	"github.com/okian/burnrank/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// floatEqual compares two float64 values with a small tolerance for floating-point precision
func floatEqual(a, b float64) bool {
	const tolerance = 1e-9
	return math.Abs(a-b) < tolerance
}

func ids(ms []Member) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// runStoreContract exercises behavior every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("increment accumulates", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Increment(ctx, "k", "1", 300); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := s.Increment(ctx, "k", "1", 200.5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !floatEqual(got, 500.5) {
			t.Errorf("expected 500.5, got %f", got)
		}
		score, ok, err := s.ScoreOf(ctx, "k", "1")
		if err != nil || !ok || !floatEqual(score, 500.5) {
			t.Errorf("ScoreOf = %f, %v, %v", score, ok, err)
		}
	})

	t.Run("zero delta creates membership", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Increment(ctx, "k", "9", 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		score, ok, err := s.ScoreOf(ctx, "k", "9")
		if err != nil || !ok || score != 0 {
			t.Errorf("ScoreOf = %f, %v, %v", score, ok, err)
		}
		rank, ok, err := s.RankOf(ctx, "k", "9")
		if err != nil || !ok || rank != 0 {
			t.Errorf("RankOf = %d, %v, %v", rank, ok, err)
		}
	})

	t.Run("top n orders by score then numeric id", func(t *testing.T) {
		s := newStore(t)
		for id, score := range map[string]float64{"1": 500, "2": 800, "3": 800, "10": 800, "4": 100} {
			if err := s.SetScore(ctx, "k", id, score); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		all, err := s.TopN(ctx, "k", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []string{"2", "3", "10", "1", "4"}; !sameIDs(ids(all), want) {
			t.Errorf("expected %v, got %v", want, ids(all))
		}

		// the cut lands inside the 800 tie group
		two, err := s.TopN(ctx, "k", 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []string{"2", "3"}; !sameIDs(ids(two), want) {
			t.Errorf("expected %v, got %v", want, ids(two))
		}

		for i, id := range []string{"2", "3", "10", "1", "4"} {
			rank, ok, err := s.RankOf(ctx, "k", id)
			if err != nil || !ok {
				t.Fatalf("RankOf(%s) = %v, %v", id, ok, err)
			}
			if rank != int64(i) {
				t.Errorf("RankOf(%s) = %d, want %d", id, rank, i)
			}
		}
	})

	t.Run("missing key and member", func(t *testing.T) {
		s := newStore(t)
		top, err := s.TopN(ctx, "nope", 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(top) != 0 {
			t.Errorf("expected empty board, got %v", top)
		}
		if _, ok, err := s.RankOf(ctx, "nope", "1"); err != nil || ok {
			t.Errorf("RankOf on missing key = %v, %v", ok, err)
		}
		if _, ok, err := s.ScoreOf(ctx, "nope", "1"); err != nil || ok {
			t.Errorf("ScoreOf on missing key = %v, %v", ok, err)
		}
		if err := s.Remove(ctx, "nope", "1"); err != nil {
			t.Errorf("Remove on missing key: %v", err)
		}
		if err := s.Expire(ctx, "nope", time.Hour); err != nil {
			t.Errorf("Expire on missing key: %v", err)
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.TopN(ctx, "k", 0); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("expected ErrInvalidLimit, got %v", err)
		}
	})

	t.Run("remove and set score", func(t *testing.T) {
		s := newStore(t)
		_, _ = s.Increment(ctx, "k", "1", 10)
		_, _ = s.Increment(ctx, "k", "2", 20)
		if err := s.Remove(ctx, "k", "2"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := s.SetScore(ctx, "k", "1", 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		top, _ := s.TopN(ctx, "k", 10)
		if len(top) != 1 || top[0].ID != "1" || !floatEqual(top[0].Score, 5) {
			t.Errorf("unexpected board %v", top)
		}
	})

	t.Run("exec applies a batch", func(t *testing.T) {
		s := newStore(t)
		_, _ = s.Increment(ctx, "old", "7", 450)
		err := s.Exec(ctx,
			RemoveOp("old", "7"),
			SetScoreOp("new", "7", 450),
			ExpireOp("new", time.Hour),
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok, _ := s.ScoreOf(ctx, "old", "7"); ok {
			t.Error("member still present on old key")
		}
		if score, ok, _ := s.ScoreOf(ctx, "new", "7"); !ok || !floatEqual(score, 450) {
			t.Errorf("new key score = %f, %v", score, ok)
		}
	})

	t.Run("exec rejects malformed ops", func(t *testing.T) {
		s := newStore(t)
		err := s.Exec(ctx, IncrementOp("k", "1", 1), Op{Kind: OpIncrement, Key: "k"})
		if !errors.Is(err, ErrInvalidOp) {
			t.Fatalf("expected ErrInvalidOp, got %v", err)
		}
		if _, ok, _ := s.ScoreOf(ctx, "k", "1"); ok {
			t.Error("a rejected batch must not apply its valid ops")
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		s := newStore(t)
		_, _ = s.Increment(ctx, "a", "1", 1)
		_, _ = s.Increment(ctx, "b", "1", 2)
		a, _, _ := s.ScoreOf(ctx, "a", "1")
		b, _, _ := s.ScoreOf(ctx, "b", "1")
		if a != 1 || b != 2 {
			t.Errorf("a=%f b=%f", a, b)
		}
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		if err := s.Ping(ctx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestMemberBefore(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"2", "10", true},
		{"10", "2", false},
		{"7", "7", false},
		{"99", "abc", true},
		{"abc", "99", false},
		{"abc", "abd", true},
		{"-1", "0", true},
	}
	for _, c := range cases {
		if got := memberBefore(c.a, c.b); got != c.want {
			t.Errorf("memberBefore(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
