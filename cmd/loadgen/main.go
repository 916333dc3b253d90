package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/okian/burnrank/internal/loadgen"
	"github.com/okian/burnrank/pkg/logger"
)

// runTimeout bounds a whole load run.
const runTimeout = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "loadgen",
		Usage: "Submit synthetic exercise events to burnrank and verify the day leaderboards",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Value:   loadgen.DefaultBaseURL,
				Usage:   "Base URL of the burnrank service",
			},
			&cli.IntFlag{
				Name:    "events",
				Aliases: []string{"n"},
				Value:   loadgen.DefaultEvents,
				Usage:   "Number of events to generate",
			},
			&cli.IntFlag{
				Name:  "users",
				Value: loadgen.DefaultUsers,
				Usage: "Number of distinct users the events are spread over",
			},
			&cli.IntFlag{
				Name:  "user-base",
				Value: loadgen.DefaultUserBase,
				Usage: "First generated user id",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"c"},
				Value:   loadgen.DefaultWorkers,
				Usage:   "Number of concurrent submitters",
			},
			&cli.IntFlag{
				Name:  "top",
				Value: loadgen.DefaultTopN,
				Usage: "Leaderboard size to fetch and verify",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: loadgen.DefaultTimeout,
				Usage: "Per-request timeout",
			},
			&cli.DurationFlag{
				Name:  "settle",
				Value: loadgen.DefaultSettle,
				Usage: "How long to wait for submitted events to be applied",
			},
			&cli.StringFlag{
				Name:  "date",
				Usage: "Date the events count towards (YYYY-MM-DD, default: the service's today)",
			},
			&cli.UintFlag{
				Name:  "seed",
				Usage: "Workload seed (default: current time)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   loadgen.DefaultOutput,
				Usage:   "File to save generated events to, empty to skip",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format (text or json)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log every submitted event",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := logger.Init(logger.WithFormat(c.String("log-format"))); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			if c.Bool("verbose") {
				_ = logger.SetLevelString("debug")
			}

			seed := c.Uint("seed")
			if seed == 0 {
				seed = uint64(time.Now().UnixNano()) //nolint:gosec // non-negative
			}

			cfg := &loadgen.Config{
				BaseURL:  c.String("url"),
				Events:   int(c.Int("events")),
				Users:    int(c.Int("users")),
				UserBase: int64(c.Int("user-base")),
				Workers:  int(c.Int("workers")),
				TopN:     int(c.Int("top")),
				Timeout:  c.Duration("timeout"),
				Settle:   c.Duration("settle"),
				Date:     c.String("date"),
				Seed:     seed,
				Output:   c.String("output"),
				Verbose:  c.Bool("verbose"),
			}

			ctx, cancel := context.WithTimeout(ctx, runTimeout)
			defer cancel()

			if _, err := loadgen.Run(ctx, cfg); err != nil {
				return fmt.Errorf("load run failed: %w", err)
			}
			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx, os.Args)
}
