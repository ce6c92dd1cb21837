package service

import (
	"time"

	"github.com/okian/fanpulse/internal/adapters/repository"
	"github.com/okian/fanpulse/internal/domain/policy"
	"github.com/okian/fanpulse/internal/domain/reaction"
	"github.com/okian/fanpulse/internal/domain/sentiment"
	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of post-commit workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the post-commit job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many request ids are remembered for replay.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore sets the durable store. The service closes it on Stop.
// Defaults to an in-memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithPolicy sets the reward policy shared by the ledger and the minter.
func WithPolicy(p *policy.Policy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithBridges sets the chain bridges rewards are settled through.
// Defaults to simulated bridges for every chain of the default rule set.
func WithBridges(bridges ...settlement.Bridge) Option {
	return func(s *Service) {
		s.bridges = append(s.bridges, bridges...)
	}
}

// WithBaseFees sets the per-chain fee table used when a bridge's oracle
// cannot quote.
func WithBaseFees(fees map[string]decimal.Decimal) Option {
	return func(s *Service) {
		s.baseFees = fees
	}
}

// WithAnalyzer sets the sentiment and virality scorer. Defaults to the
// lexicon analyzer.
func WithAnalyzer(a sentiment.Analyzer) Option {
	return func(s *Service) {
		if a != nil {
			s.analyzer = a
		}
	}
}

// WithSentimentTimeout bounds scorer latency before the neutral fallback.
func WithSentimentTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sentimentTimeout = d
		}
	}
}

// WithPublisher sets where collectible metadata is published.
func WithPublisher(p reaction.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithMintChain sets the chain reaction collectibles are minted on.
func WithMintChain(chainID string) Option {
	return func(s *Service) {
		if chainID != "" {
			s.mintChain = chainID
		}
	}
}

// WithExcerptLimit caps the reaction excerpt length in runes.
func WithExcerptLimit(runes int) Option {
	return func(s *Service) {
		if runes > 0 {
			s.excerptLimit = runes
		}
	}
}

// WithLedgerMaxRetries bounds ledger commit retries on conflicts.
func WithLedgerMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.ledgerMaxRetries = n
		}
	}
}

// WithSettleTimeout bounds how long a caller waits for settlement before
// receiving a snapshot.
func WithSettleTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.settleTimeout = d
		}
	}
}

// WithSweepInterval sets how often due dispatch tasks are resumed.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithDispatchOptions passes options through to the settlement coordinator.
func WithDispatchOptions(opts ...settlement.Option) Option {
	return func(s *Service) {
		s.dispatchOpts = append(s.dispatchOpts, opts...)
	}
}

// WithClock overrides the time source used for fan events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
