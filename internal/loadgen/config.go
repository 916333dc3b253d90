// Package loadgen drives a running burnrank service with synthetic exercise
// events and checks the leaderboards it serves afterwards.
package loadgen

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/burnrank/internal/domain/types"
)

// Defaults used by the CLI flags.
const (
	DefaultBaseURL   = "http://localhost:9080"
	DefaultEvents    = 10_000
	DefaultUsers     = 500
	DefaultWorkers   = 32
	DefaultTimeout   = 10 * time.Second
	DefaultSettle    = 30 * time.Second
	DefaultTopN      = 20
	DefaultOutput    = "loadgen-events.json"
	DefaultUserBase  = 1_000_000
	maxCaloriesPerEv = 800.0
	pollInterval     = 200 * time.Millisecond
)

// ErrInvalidConfig is returned for unusable settings.
var ErrInvalidConfig = errors.New("invalid loadgen config")

// Config holds one run's settings.
type Config struct {
	BaseURL  string
	Events   int
	Users    int
	UserBase int64 // first generated user id
	Workers  int
	Timeout  time.Duration // per request
	Settle   time.Duration // how long to wait for the queue to drain
	TopN     int
	Date     string // YYYY-MM-DD; empty means the server's today
	Seed     uint64
	Output   string // events dump; empty disables it
	Verbose  bool
}

// Validate checks the settings.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: url must not be empty", ErrInvalidConfig)
	case c.Events <= 0:
		return fmt.Errorf("%w: events must be positive", ErrInvalidConfig)
	case c.Users <= 0:
		return fmt.Errorf("%w: users must be positive", ErrInvalidConfig)
	case c.UserBase <= 0:
		return fmt.Errorf("%w: user base must be positive", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.TopN <= 0:
		return fmt.Errorf("%w: top must be positive", ErrInvalidConfig)
	}
	if c.Date != "" {
		if _, err := time.Parse(time.DateOnly, c.Date); err != nil {
			return fmt.Errorf("%w: date %q: %v", ErrInvalidConfig, c.Date, err)
		}
	}
	return nil
}

// Event is the POST /events request body.
type Event struct {
	EventID  string  `json:"event_id"`
	UserID   int64   `json:"user_id"`
	Calories float64 `json:"calories"`
	Category string  `json:"category,omitempty"`
	Date     string  `json:"date,omitempty"`
}

// Rankings is the GET /rankings response body.
type Rankings struct {
	Rankings    []types.Entry      `json:"rankings"`
	UserRanking *types.UserRanking `json:"user_ranking"`
	Period      string             `json:"period"`
	Category    *string            `json:"category"`
	TargetDate  string             `json:"target_date"`
}

// Stats summarizes a run.
type Stats struct {
	StartTime  time.Time
	Duration   time.Duration
	Generated  int
	Accepted   int64
	Duplicates int64
	Retried    int64
	Failed     int64
	Mismatches int
}
