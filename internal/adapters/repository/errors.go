package repository

import "errors"

// Sentinel kinds for store errors.
var (
	// ErrStoreUnavailable means the backing store could not be reached,
	// timed out, or has been closed.
	ErrStoreUnavailable = errors.New("score store unavailable")
	// ErrStoreCommand means the store answered but rejected the command.
	ErrStoreCommand = errors.New("score store rejected command")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
	ErrInvalidOp    = errors.New("invalid store operation")
)
