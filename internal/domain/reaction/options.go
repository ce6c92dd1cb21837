package reaction

import (
	"time"

	"github.com/okian/fanpulse/pkg/logger"
)

// Option applies a configuration option to the Minter.
type Option func(*Minter)

// WithPublisher uploads collectible metadata after minting.
func WithPublisher(p Publisher) Option {
	return func(m *Minter) { m.publisher = p }
}

// WithChain sets the chain collectibles are minted on.
func WithChain(chainID string) Option {
	return func(m *Minter) {
		if chainID != "" {
			m.chain = chainID
		}
	}
}

// WithExcerptLimit bounds the commentary excerpt in runes.
func WithExcerptLimit(runes int) Option {
	return func(m *Minter) {
		if runes > 0 {
			m.excerptMax = runes
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Minter) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Minter) {
		if l != nil {
			m.log = l
		}
	}
}
