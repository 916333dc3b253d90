package api

import "github.com/okian/burnrank/pkg/logger"

const (
	defaultLimit = 10
	maxLimit     = 100
)

type serverConfig struct {
	defaultLimit int
	maxLimit     int
	log          logger.Logger
}

// Option configures the Server.
type Option func(*serverConfig)

// WithLimits sets the default and maximum leaderboard page size.
func WithLimits(defaultN, maxN int) Option {
	return func(c *serverConfig) {
		if maxN > 0 {
			c.maxLimit = maxN
		}
		if defaultN > 0 && defaultN <= c.maxLimit {
			c.defaultLimit = defaultN
		}
		if c.defaultLimit > c.maxLimit {
			c.defaultLimit = c.maxLimit
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.log = l
		}
	}
}
