package ranking

import "errors"

// Sentinel kinds for ranking errors. Callers match them with errors.Is.
var (
	ErrInvalidPeriod    = errors.New("invalid ranking period")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidCalories  = errors.New("invalid calories")
	ErrInvalidUser      = errors.New("invalid user id")
	ErrInvalidLimit     = errors.New("invalid leaderboard limit")
	ErrPartialMigration = errors.New("category migration incomplete")
)
