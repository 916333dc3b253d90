// Package redis opens the rueidis client shared by the score store and the deduper.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/rueidis"

	"github.com/okian/burnrank/pkg/logger"
)

// ErrNoAddress is returned when Config has no address.
var ErrNoAddress = errors.New("redis address is required")

// Config describes how to reach Redis.
type Config struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	DialTimeout time.Duration
	// ConnectRetries bounds how many extra attempts are made when the first
	// connection fails.
	ConnectRetries uint64
}

// Connect opens a client and verifies it with PING, retrying with
// exponential backoff until ConnectRetries is exhausted or ctx ends.
func Connect(ctx context.Context, cfg Config) (rueidis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrNoAddress
	}
	log := logger.Named("redis")

	opt := rueidis.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		ClientName:   "burnrank",
		DisableCache: true,
		Dialer:       net.Dialer{Timeout: cfg.DialTimeout},
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
	), cfg.ConnectRetries)

	// Redis error replies such as a failed AUTH are permanent.
	var client rueidis.Client
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		c, err := rueidis.NewClient(opt)
		if err != nil {
			log.Warn(ctx, "redis connect failed",
				logger.String("addr", cfg.Addr),
				logger.Int("attempt", attempt),
				logger.Error(err))
			if _, ok := rueidis.IsRedisErr(err); ok {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := c.Do(ctx, c.B().Ping().Build()).Error(); err != nil {
			c.Close()
			if _, ok := rueidis.IsRedisErr(err); ok {
				return backoff.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	log.Info(ctx, "connected to redis",
		logger.String("addr", cfg.Addr),
		logger.Int("db", cfg.DB),
		logger.Int("attempts", attempt))
	return client, nil
}
