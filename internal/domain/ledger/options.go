package ledger

import (
	"time"

	"github.com/okian/fanpulse/internal/domain/keylock"
	"github.com/okian/fanpulse/pkg/logger"
)

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithLocks shares a lock manager with other writers of the same keys.
func WithLocks(m *keylock.Manager) Option {
	return func(l *Ledger) {
		if m != nil {
			l.locks = m
		}
	}
}

// WithMaxRetries bounds how often a conflicting commit is retried.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the upper bound of the jittered pause between retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(l *Ledger) {
		if d >= 0 {
			l.retryBackoff = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator overrides transaction id generation.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}
