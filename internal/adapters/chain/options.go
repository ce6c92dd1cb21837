package chain

import (
	"net/http"
	"time"

	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
)

// Option configures an HTTPBridge.
type Option func(*HTTPBridge)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *HTTPBridge) {
		if c != nil {
			b.client = c
		}
	}
}

// WithRateLimit bounds requests to the relayer.
func WithRateLimit(rps float64, burst int) Option {
	return func(b *HTTPBridge) {
		if rps > 0 {
			b.rps = rps
		}
		if burst > 0 {
			b.burst = burst
		}
	}
}

// WithBreakerTimeout sets how long the breaker stays open.
func WithBreakerTimeout(d time.Duration) Option {
	return func(b *HTTPBridge) {
		if d > 0 {
			b.breakerTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *HTTPBridge) {
		if l != nil {
			b.log = l
		}
	}
}

// SimOption configures a SimulatedBridge.
type SimOption func(*SimulatedBridge)

// WithBaseFee sets the per-word fee quoted by the simulator.
func WithBaseFee(fee decimal.Decimal) SimOption {
	return func(s *SimulatedBridge) { s.baseFee = fee }
}

// WithConfirmAfter makes each txRef confirm on its n-th poll.
func WithConfirmAfter(n int) SimOption {
	return func(s *SimulatedBridge) {
		if n > 0 {
			s.confirmAfter = n
		}
	}
}

// WithTransientFailures fails the first n confirmations of every txRef.
func WithTransientFailures(n int) SimOption {
	return func(s *SimulatedBridge) {
		if n >= 0 {
			s.transient = n
		}
	}
}

// WithReverts makes every settlement on the chain revert.
func WithReverts() SimOption {
	return func(s *SimulatedBridge) { s.revert = true }
}
