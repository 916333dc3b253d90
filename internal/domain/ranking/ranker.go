package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/okian/burnrank/internal/adapters/repository"
	"github.com/okian/burnrank/internal/domain/model"
	"github.com/okian/burnrank/internal/domain/types"
	"github.com/okian/burnrank/pkg/logger"
	"github.com/okian/burnrank/pkg/metrics"
)

// Ranker maintains the calories leaderboards on top of a score store.
// It holds no ranking state of its own; every call goes to the store.
type Ranker struct {
	store     repository.Store
	retention Retention
	log       logger.Logger
}

// NewRanker creates a Ranker over store.
func NewRanker(store repository.Store, opts ...Option) *Ranker {
	r := &Ranker{
		store:     store,
		retention: DefaultRetention(),
		log:       logger.Named("ranking"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retention returns the TTLs applied on write.
func (r *Ranker) Retention() Retention { return r.retention }

func member(userID int64) string { return strconv.FormatInt(userID, 10) }

// RecordEvent adds the event's calories to the global leaderboards of its
// day, month and year, and to the matching category leaderboards when the
// category label is recognized. All increments and TTL refreshes go out as
// one batch. Cross-key atomicity is not guaranteed.
func (r *Ranker) RecordEvent(ctx context.Context, ev model.ExerciseEvent) error {
	if err := ValidateEvent(ev); err != nil {
		return err
	}

	scopes := []Category{Global}
	if cat, ok := ParseCategory(ev.Category); ok {
		scopes = append(scopes, cat)
	} else if ev.Category != "" {
		r.log.Debug(ctx, "unknown category, skipping category boards",
			logger.Int64("user_id", ev.UserID),
			logger.String("category", ev.Category))
	}

	m := member(ev.UserID)
	ops := make([]repository.Op, 0, 2*len(Periods)*len(scopes))
	for _, p := range Periods {
		ttl := r.retention.For(p)
		for _, scope := range scopes {
			key := KeyFor(p, scope, ev.Date)
			ops = append(ops,
				repository.IncrementOp(key, m, ev.Calories),
				repository.ExpireOp(key, ttl),
			)
		}
	}

	start := time.Now()
	err := r.store.Exec(ctx, ops...)
	metrics.RecordRecordLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		return fmt.Errorf("record event %q for user %d: %w", ev.EventID, ev.UserID, err)
	}

	metrics.RecordEventRecorded()
	for _, p := range Periods {
		for _, scope := range scopes {
			metrics.RecordLeaderboardWrite(p.String(), scope.Scope())
		}
	}
	return nil
}

// ValidateEvent reports whether ev can be applied to the leaderboards.
// Unknown category labels are accepted; they only skip the category boards.
func ValidateEvent(ev model.ExerciseEvent) error {
	switch {
	case ev.UserID <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidUser, ev.UserID)
	case math.IsNaN(ev.Calories) || math.IsInf(ev.Calories, 0) || ev.Calories < 0:
		return fmt.Errorf("%w: %v", ErrInvalidCalories, ev.Calories)
	case ev.Date.IsZero():
		return fmt.Errorf("%w: missing event date", ErrInvalidDate)
	}
	return nil
}

// Query selects one leaderboard and, for TopRankings, how many rows to read.
type Query struct {
	Period   Period
	Category string // empty for the global board
	Date     time.Time
	Limit    int
}

func (q Query) key() (string, error) {
	if !q.Period.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, q.Period)
	}
	if q.Date.IsZero() {
		return "", fmt.Errorf("%w: missing target date", ErrInvalidDate)
	}
	cat := Global
	if q.Category != "" {
		var ok bool
		if cat, ok = ParseCategory(q.Category); !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidCategory, q.Category)
		}
	}
	return KeyFor(q.Period, cat, q.Date), nil
}

func queryStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, repository.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, repository.ErrStoreCommand):
		return "error"
	}
	return "invalid"
}

// TopRankings returns up to q.Limit entries of the selected leaderboard
// with 1-based ranks in list order.
func (r *Ranker) TopRankings(ctx context.Context, q Query) (entries []types.Entry, err error) {
	defer func() { metrics.RecordQuery("top", queryStatus(err)) }()

	if q.Limit < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, q.Limit)
	}
	key, err := q.key()
	if err != nil {
		return nil, err
	}

	members, err := r.store.TopN(ctx, key, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("top rankings %s: %w", key, err)
	}

	entries = make([]types.Entry, 0, len(members))
	for i, m := range members {
		id, perr := strconv.ParseInt(m.ID, 10, 64)
		if perr != nil {
			r.log.Warn(ctx, "skipping non-numeric leaderboard member",
				logger.String("key", key),
				logger.String("member", m.ID))
			continue
		}
		entries = append(entries, types.Entry{Rank: i + 1, UserID: id, Score: m.Score})
	}
	return entries, nil
}

// UserRanking returns the user's 1-based rank and score on the selected
// leaderboard, or an unranked result when the user has no score there.
func (r *Ranker) UserRanking(ctx context.Context, userID int64, q Query) (ur types.UserRanking, err error) {
	defer func() { metrics.RecordQuery("user", queryStatus(err)) }()

	ur.UserID = userID
	if userID <= 0 {
		return ur, fmt.Errorf("%w: %d", ErrInvalidUser, userID)
	}
	key, err := q.key()
	if err != nil {
		return ur, err
	}

	m := member(userID)
	rank, ok, err := r.store.RankOf(ctx, key, m)
	if err != nil {
		return ur, fmt.Errorf("user ranking %s: %w", key, err)
	}
	if !ok {
		return ur, nil
	}
	score, ok, err := r.store.ScoreOf(ctx, key, m)
	if err != nil {
		return ur, fmt.Errorf("user ranking %s: %w", key, err)
	}
	if !ok {
		// removed between the two reads
		return ur, nil
	}

	oneBased := int(rank) + 1
	ur.Rank = &oneBased
	ur.Score = &score
	return ur, nil
}

// Migration outcomes.
const (
	MigrationNoop    = "noop"
	MigrationMoved   = "moved"
	MigrationPartial = "partial"
)

// PeriodMove records a score moved for one period.
type PeriodMove struct {
	Period Period  `json:"period"`
	Bucket string  `json:"bucket"`
	Score  float64 `json:"calories"`
}

// PeriodFailure records a period whose move did not complete.
type PeriodFailure struct {
	Period Period `json:"period"`
	Bucket string `json:"bucket"`
	Error  string `json:"error"`
}

// MigrationReport describes what MigrateCategory did per period.
type MigrationReport struct {
	UserID  int64           `json:"user_id"`
	From    string          `json:"old_category"`
	To      string          `json:"new_category"`
	Status  string          `json:"status"`
	Moved   []PeriodMove    `json:"moved"`
	Skipped []Period        `json:"skipped"`
	Failed  []PeriodFailure `json:"failed"`
}

// MigrateCategory moves the user's scores for the current day, month and
// year buckets of ch.AsOf from the old category's leaderboards to the new
// one's. Global leaderboards and past buckets are left alone.
//
// Each period moves as one batch (remove from old, set on new, refresh
// TTL). A failed period does not stop the others and completed periods are
// not rolled back; the error then wraps ErrPartialMigration.
func (r *Ranker) MigrateCategory(ctx context.Context, ch model.CategoryChange) (MigrationReport, error) {
	report := MigrationReport{
		UserID:  ch.UserID,
		From:    ch.OldCategory,
		To:      ch.NewCategory,
		Status:  MigrationNoop,
		Moved:   []PeriodMove{},
		Skipped: []Period{},
		Failed:  []PeriodFailure{},
	}

	if ch.UserID <= 0 {
		return report, fmt.Errorf("%w: %d", ErrInvalidUser, ch.UserID)
	}
	if ch.AsOf.IsZero() {
		return report, fmt.Errorf("%w: missing as-of date", ErrInvalidDate)
	}

	if normalizeLabel(ch.OldCategory) == normalizeLabel(ch.NewCategory) {
		metrics.RecordMigration(MigrationNoop)
		return report, nil
	}
	oldCat, oldOK := ParseCategory(ch.OldCategory)
	newCat, newOK := ParseCategory(ch.NewCategory)
	if !newOK {
		metrics.RecordMigration("invalid")
		return report, fmt.Errorf("%w: %q", ErrInvalidCategory, ch.NewCategory)
	}
	report.To = string(newCat)
	if !oldOK {
		// nothing was ever scored under an unrecognized label
		metrics.RecordMigration(MigrationNoop)
		return report, nil
	}
	report.From = string(oldCat)

	m := member(ch.UserID)
	var errs []error
	for _, p := range Periods {
		bucket := p.Bucket(ch.AsOf)
		oldKey := RankKey(p, oldCat, bucket)
		newKey := RankKey(p, newCat, bucket)

		score, ok, err := r.store.ScoreOf(ctx, oldKey, m)
		if err == nil && !ok {
			report.Skipped = append(report.Skipped, p)
			continue
		}
		if err == nil {
			err = r.store.Exec(ctx,
				repository.RemoveOp(oldKey, m),
				repository.SetScoreOp(newKey, m, score),
				repository.ExpireOp(newKey, r.retention.For(p)),
			)
		}
		if err != nil {
			r.log.Error(ctx, "category migration failed for period",
				logger.Int64("user_id", ch.UserID),
				logger.String("period", p.String()),
				logger.String("from", oldKey),
				logger.String("to", newKey),
				logger.Error(err))
			report.Failed = append(report.Failed, PeriodFailure{Period: p, Bucket: bucket, Error: err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		report.Moved = append(report.Moved, PeriodMove{Period: p, Bucket: bucket, Score: score})
	}

	metrics.RecordMigratedPeriods(len(report.Moved))
	if len(errs) > 0 {
		report.Status = MigrationPartial
		metrics.RecordMigration(MigrationPartial)
		return report, fmt.Errorf("%w: user %d: %w", ErrPartialMigration, ch.UserID, errors.Join(errs...))
	}
	if len(report.Moved) > 0 {
		report.Status = MigrationMoved
	}
	metrics.RecordMigration(report.Status)

	r.log.Info(ctx, "category migrated",
		logger.Int64("user_id", ch.UserID),
		logger.String("from", report.From),
		logger.String("to", report.To),
		logger.Int("moved", len(report.Moved)))
	return report, nil
}
