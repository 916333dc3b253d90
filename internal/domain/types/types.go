// Package types contains common types used across the application
package types

// Entry represents a leaderboard entry
type Entry struct {
	Rank   int     `json:"rank"`
	UserID int64   `json:"user_id"`
	Score  float64 `json:"calories"`
}

// UserRanking is one user's standing on a leaderboard. Rank and Score are
// nil when the user has no score there, which is distinct from a score of 0.
type UserRanking struct {
	UserID int64    `json:"user_id"`
	Rank   *int     `json:"rank"`
	Score  *float64 `json:"calories"`
}

// Ranked reports whether the user has a score on the leaderboard.
func (u UserRanking) Ranked() bool { return u.Rank != nil }
