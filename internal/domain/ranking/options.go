package ranking

import "github.com/okian/burnrank/pkg/logger"

// Option applies a configuration option to the Ranker.
type Option func(*Ranker)

// WithRetention sets the per-period leaderboard TTLs. Non-positive
// durations keep the default for that period.
func WithRetention(r Retention) Option {
	return func(rk *Ranker) {
		if r.Day > 0 {
			rk.retention.Day = r.Day
		}
		if r.Month > 0 {
			rk.retention.Month = r.Month
		}
		if r.Year > 0 {
			rk.retention.Year = r.Year
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(rk *Ranker) {
		if l != nil {
			rk.log = l
		}
	}
}
