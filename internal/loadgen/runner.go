package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/okian/burnrank/internal/domain/ranking"
	"github.com/okian/burnrank/pkg/logger"
	"github.com/sourcegraph/conc/pool"
)

const (
	directoryPermission = 0o750
	filePermission      = 0o640
)

// Run submits a generated workload to the service at cfg.BaseURL, waits for
// it to be applied and verifies the day leaderboards against it.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Named("loadgen")
	stats := &Stats{StartTime: time.Now()}
	client := NewClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting burnrank load run",
		logger.String("url", cfg.BaseURL),
		logger.Int("events", cfg.Events),
		logger.Int("users", cfg.Users),
		logger.Int("workers", cfg.Workers),
		logger.String("date", cfg.Date))

	if err := client.Ready(ctx); err != nil {
		return stats, fmt.Errorf("service not ready: %w", err)
	}

	batch := Generate(cfg)
	stats.Generated = len(batch.Events)

	if err := submit(ctx, cfg, client, batch.Events, stats); err != nil {
		return stats, fmt.Errorf("submit events: %w", err)
	}
	if err := submit(ctx, cfg, client, batch.Replays, stats); err != nil {
		return stats, fmt.Errorf("replay events: %w", err)
	}
	log.Info(ctx, "events submitted",
		logger.Int64("accepted", stats.Accepted),
		logger.Int64("duplicates", stats.Duplicates),
		logger.Int64("retried", stats.Retried),
		logger.Int64("failed", stats.Failed))

	if cfg.Output != "" {
		if err := saveEvents(cfg.Output, batch.Events); err != nil {
			log.Warn(ctx, "failed to save events", logger.Error(err))
		} else {
			log.Info(ctx, "events saved", logger.String("file", cfg.Output))
		}
	}

	if stats.Failed > 0 {
		stats.Duration = time.Since(stats.StartTime)
		return stats, fmt.Errorf("%d events were not accepted", stats.Failed)
	}

	if err := settle(ctx, cfg, client, batch); err != nil {
		return stats, err
	}

	stats.Mismatches = verify(ctx, cfg, client, batch)
	stats.Duration = time.Since(stats.StartTime)
	logStats(ctx, log, stats)

	if stats.Mismatches > 0 {
		return stats, fmt.Errorf("%w: %d mismatches", ErrVerification, stats.Mismatches)
	}
	return stats, nil
}

func submit(ctx context.Context, cfg *Config, client *Client, events []Event, stats *Stats) error {
	log := logger.Named("loadgen")
	p := pool.New().WithMaxGoroutines(cfg.Workers).WithContext(ctx)
	for _, ev := range events {
		p.Go(func(ctx context.Context) error {
			ack, retries, err := client.Submit(ctx, ev)
			atomic.AddInt64(&stats.Retried, int64(retries))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				atomic.AddInt64(&stats.Failed, 1)
				log.Warn(ctx, "event rejected", logger.String("event_id", ev.EventID), logger.Error(err))
				return nil
			}
			if ack.Duplicate {
				atomic.AddInt64(&stats.Duplicates, 1)
			} else {
				atomic.AddInt64(&stats.Accepted, 1)
			}
			if cfg.Verbose {
				log.Debug(ctx, "event submitted",
					logger.String("event_id", ev.EventID),
					logger.Int64("user_id", ev.UserID),
					logger.Bool("duplicate", ack.Duplicate))
			}
			return nil
		})
	}
	return p.Wait()
}

// settle polls the expected leaders of every verified board until their
// totals match or cfg.Settle elapses. Users still in flight score below
// their final total, so they cannot displace a settled leader.
func settle(ctx context.Context, cfg *Config, client *Client, b *Batch) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Settle)
	defer cancel()

	var leaders []int64
	seen := make(map[int64]bool)
	for _, scope := range scopes() {
		for _, id := range b.Leaders(cfg.TopN, scope) {
			if !seen[id] {
				seen[id] = true
				leaders = append(leaders, id)
			}
		}
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		lastErr = nil
		for _, id := range leaders {
			ur, err := client.UserRanking(ctx, id, string(ranking.PeriodDay), "", cfg.Date)
			if err == nil {
				err = VerifyUser(ur, b)
			}
			if err != nil {
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("events not applied within %s: %w", cfg.Settle, lastErr)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// verify checks the global and every category day board and returns the
// number of failed checks.
func verify(ctx context.Context, cfg *Config, client *Client, b *Batch) int {
	log := logger.Named("loadgen")
	mismatches := 0
	for _, scope := range scopes() {
		label := ranking.Category(scope).Scope()
		var probe int64
		if leaders := b.Leaders(1, scope); len(leaders) > 0 {
			probe = leaders[0]
		}

		board, err := client.Rankings(ctx, string(ranking.PeriodDay), scope, cfg.Date, cfg.TopN, probe)
		if err != nil {
			log.Error(ctx, "failed to fetch leaderboard", logger.String("scope", label), logger.Error(err))
			mismatches++
			continue
		}
		if err := VerifyOrder(board.Rankings); err != nil {
			log.Error(ctx, "leaderboard out of order", logger.String("scope", label), logger.Error(err))
			mismatches++
		}
		checked, err := VerifyTotals(board.Rankings, b)
		if err != nil {
			log.Error(ctx, "leaderboard totals differ", logger.String("scope", label), logger.Error(err))
			mismatches++
		}
		if board.UserRanking != nil {
			if err := VerifyUser(board.UserRanking, b); err != nil {
				log.Error(ctx, "user ranking differs", logger.String("scope", label), logger.Error(err))
				mismatches++
			}
		}

		fields := []logger.Field{
			logger.String("scope", label),
			logger.String("target_date", board.TargetDate),
			logger.Int("entries", len(board.Rankings)),
			logger.Int("checked", checked),
		}
		if len(board.Rankings) > 0 {
			top := board.Rankings[0]
			fields = append(fields, logger.Int64("leader", top.UserID), logger.Float64("leader_calories", top.Score))
		}
		log.Info(ctx, "leaderboard verified", fields...)
	}
	return mismatches
}

// scopes lists the global board followed by every category board.
func scopes() []string {
	out := []string{string(ranking.Global)}
	for _, c := range ranking.Categories {
		out = append(out, string(c))
	}
	return out
}

func saveEvents(filename string, events []Event) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}

func logStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Accepted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "load run finished",
		logger.Int("generated", stats.Generated),
		logger.Int64("accepted", stats.Accepted),
		logger.Int64("duplicates", stats.Duplicates),
		logger.Int64("retried", stats.Retried),
		logger.Int64("failed", stats.Failed),
		logger.Int("mismatches", stats.Mismatches),
		logger.Duration("duration", stats.Duration),
		logger.Float64("events_per_second", perSecond))
}
