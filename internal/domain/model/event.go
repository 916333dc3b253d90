// Package model contains domain models passed between layers.
package model

import "time"

// ExerciseEvent is one committed exercise-log row as reported by the
// exercise-log collaborator. Only its effect on the leaderboards persists.
type ExerciseEvent struct {
	EventID  string    // log row id; used for idempotency
	UserID   int64     // owner of the logged exercise
	Calories float64   // calories burned, >= 0
	Category string    // user's category label at log time; may be empty
	Date     time.Time // calendar date the exercise counts towards
}

// CategoryChange is reported by the user-profile collaborator when a user's
// category label changes.
type CategoryChange struct {
	UserID      int64
	OldCategory string
	NewCategory string
	AsOf        time.Time // date whose current buckets are migrated
}
