package settlement

import (
	"time"

	"github.com/okian/fanpulse/pkg/logger"
)

// Default dispatch policy.
const (
	DefaultMaxAttempts         = 5
	DefaultBackoffBase         = 2 * time.Second
	DefaultAttemptTimeout      = 30 * time.Second
	DefaultConfirmPollInterval = 500 * time.Millisecond
	DefaultResumeBatch         = 256
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithBridges registers one bridge per chain.
func WithBridges(bridges ...Bridge) Option {
	return func(c *Coordinator) {
		for _, b := range bridges {
			if b != nil {
				c.bridges[b.ChainID()] = b
			}
		}
	}
}

// WithFeeEstimator sets how native fees are quoted.
func WithFeeEstimator(f FeeEstimator) Option {
	return func(c *Coordinator) {
		if f != nil {
			c.fees = f
		}
	}
}

// WithMaxAttempts bounds dispatch attempts per task.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoffBase sets the delay after the first failed attempt; each later
// failure doubles it.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.backoffBase = d
		}
	}
}

// WithAttemptTimeout bounds one submit-and-confirm attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithConfirmPollInterval sets how often a pending txRef is polled.
func WithConfirmPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithResumeBatch bounds how many tasks one Resume call picks up.
func WithResumeBatch(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.resumeBatch = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}
