package loadgen

import (
	"errors"
	"fmt"

	"github.com/okian/burnrank/internal/domain/types"
)

// ErrVerification is returned when a served leaderboard disagrees with the workload.
var ErrVerification = errors.New("leaderboard verification failed")

// VerifyOrder checks that entries are ordered by calories descending with
// lower ids first on ties, and that ranks are dense 1-based positions.
func VerifyOrder(entries []types.Entry) error {
	for i, e := range entries {
		if e.Rank != i+1 {
			return fmt.Errorf("%w: entry %d has rank %d", ErrVerification, i, e.Rank)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		if prev.Score < e.Score {
			return fmt.Errorf("%w: rank %d (%.0f) below rank %d (%.0f)", ErrVerification, prev.Rank, prev.Score, e.Rank, e.Score)
		}
		if prev.Score == e.Score && prev.UserID > e.UserID {
			return fmt.Errorf("%w: tie at %.0f orders user %d before %d", ErrVerification, e.Score, prev.UserID, e.UserID)
		}
	}
	return nil
}

// VerifyTotals compares every batch user found in entries with the batch's
// expected total. Users outside the batch are ignored. It returns how many
// batch users it checked.
func VerifyTotals(entries []types.Entry, b *Batch) (int, error) {
	checked := 0
	for _, e := range entries {
		want, ok := b.Totals[e.UserID]
		if !ok {
			continue
		}
		checked++
		if e.Score != want {
			return checked, fmt.Errorf("%w: user %d has %.0f calories, want %.0f", ErrVerification, e.UserID, e.Score, want)
		}
	}
	return checked, nil
}

// VerifyUser compares one user's standing with the batch's expected total.
func VerifyUser(ur *types.UserRanking, b *Batch) error {
	want, ok := b.Totals[ur.UserID]
	if !ok {
		return nil
	}
	if !ur.Ranked() {
		return fmt.Errorf("%w: user %d is unranked, want %.0f calories", ErrVerification, ur.UserID, want)
	}
	if *ur.Score != want {
		return fmt.Errorf("%w: user %d has %.0f calories, want %.0f", ErrVerification, ur.UserID, *ur.Score, want)
	}
	return nil
}
