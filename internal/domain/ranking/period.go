package ranking

import (
	"fmt"
	"strings"
	"time"
)

// Period is the time granularity of a leaderboard.
type Period string

// Supported periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Periods lists every period in the order updates fan out.
var Periods = []Period{PeriodDay, PeriodMonth, PeriodYear} //nolint:gochecknoglobals // closed set

// ParsePeriod validates a period label.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return p, nil
}

// Valid reports whether p is one of the supported periods.
func (p Period) Valid() bool {
	switch p {
	case PeriodDay, PeriodMonth, PeriodYear:
		return true
	}
	return false
}

// Bucket returns the time bucket of date for this period:
// YYYYMMDD for day, YYYYMM for month, YYYY for year.
// The calendar fields of date are used as-is; no zone conversion happens here.
func (p Period) Bucket(date time.Time) string {
	switch p {
	case PeriodDay:
		return date.Format("20060102")
	case PeriodMonth:
		return date.Format("200601")
	case PeriodYear:
		return date.Format("2006")
	}
	return ""
}

func (p Period) String() string { return string(p) }

// Retention holds how long each period's leaderboard lives after its last write.
type Retention struct {
	Day   time.Duration
	Month time.Duration
	Year  time.Duration
}

// DefaultRetention keeps yesterday's, last month's and last year's boards
// queryable for a while after the period ends.
func DefaultRetention() Retention {
	return Retention{
		Day:   7 * 24 * time.Hour,
		Month: 60 * 24 * time.Hour,
		Year:  365 * 24 * time.Hour,
	}
}

// For returns the TTL of a period's leaderboard.
func (r Retention) For(p Period) time.Duration {
	switch p {
	case PeriodDay:
		return r.Day
	case PeriodMonth:
		return r.Month
	case PeriodYear:
		return r.Year
	}
	return 0
}
