// Package service wires the ledger, minting, achievement and settlement
// components together and implements the dependencies of the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/fanpulse/internal/adapters/chain"
	"github.com/okian/fanpulse/internal/adapters/mq/queue"
	"github.com/okian/fanpulse/internal/adapters/mq/worker"
	"github.com/okian/fanpulse/internal/adapters/repository"
	"github.com/okian/fanpulse/internal/adapters/scheduler"
	"github.com/okian/fanpulse/internal/domain/achievement"
	"github.com/okian/fanpulse/internal/domain/dedupe"
	"github.com/okian/fanpulse/internal/domain/ledger"
	"github.com/okian/fanpulse/internal/domain/policy"
	"github.com/okian/fanpulse/internal/domain/reaction"
	"github.com/okian/fanpulse/internal/domain/sentiment"
	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/okian/fanpulse/internal/domain/types"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/okian/fanpulse/pkg/metrics"
	"github.com/shopspring/decimal"
)

// ErrNotStarted is returned by operations called before Start or after Stop.
var ErrNotStarted = errors.New("service not started")

const (
	defaultQueueSize        = 10000
	defaultDedupeSize       = 50000
	defaultLedgerRetries    = 5
	defaultSentimentTimeout = 800 * time.Millisecond
	defaultSettleTimeout    = 10 * time.Second
	defaultSweepInterval    = 15 * time.Second
	defaultMintChain        = "base"
	defaultExcerptLimit     = 140
	shutdownTimeout         = 30 * time.Second
)

// Service implements the API dependencies of the fan engagement engine.
type Service struct {
	mu sync.RWMutex

	// Collaborators; defaults are built in Start.
	store     repository.Store
	policy    *policy.Policy
	bridges   []settlement.Bridge
	baseFees  map[string]decimal.Decimal
	analyzer  sentiment.Analyzer
	publisher reaction.Publisher

	// Core components
	ledger      *ledger.Ledger
	minter      *reaction.Minter
	engine      *achievement.Engine
	coordinator *settlement.Coordinator
	pipeline    *worker.Pipeline
	jobs        *queue.InMemoryQueue
	pool        *worker.Pool
	sweeper     *scheduler.Sweeper
	receipts    dedupe.Deduper[types.SupportReceipt]

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	ledgerMaxRetries int
	mintChain        string
	excerptLimit     int
	sentimentTimeout time.Duration
	settleTimeout    time.Duration
	sweepInterval    time.Duration
	dispatchOpts     []settlement.Option
	now              func() time.Time

	// State
	started   bool
	lifecycle context.Context
	cancel    context.CancelFunc
	detached  sync.WaitGroup

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU() * 4,
		queueSize:        defaultQueueSize,
		dedupeSize:       defaultDedupeSize,
		ledgerMaxRetries: defaultLedgerRetries,
		mintChain:        defaultMintChain,
		excerptLimit:     defaultExcerptLimit,
		sentimentTimeout: defaultSentimentTimeout,
		settleTimeout:    defaultSettleTimeout,
		sweepInterval:    defaultSweepInterval,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and starts the workers and the sweeper.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	log := s.logger
	log.Info(ctx, "starting fanpulse service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore(ctx)
		log.Info(ctx, "using in-memory store")
	}
	if s.policy == nil {
		s.policy = policy.MustNew()
	}
	if len(s.bridges) == 0 {
		s.bridges = simulatedBridges(log)
		log.Info(ctx, "using simulated chain bridges", logger.Int("chains", len(s.bridges)))
	}
	if s.analyzer == nil {
		s.analyzer = sentiment.NewLexiconAnalyzer()
	}

	s.ledger = ledger.New(s.store, s.policy,
		ledger.WithMaxRetries(s.ledgerMaxRetries),
		ledger.WithLogger(log),
	)
	minterOpts := []reaction.Option{
		reaction.WithChain(s.mintChain),
		reaction.WithExcerptLimit(s.excerptLimit),
		reaction.WithLogger(log),
	}
	if s.publisher != nil {
		minterOpts = append(minterOpts, reaction.WithPublisher(s.publisher))
	}
	s.minter = reaction.New(s.store, s.store, s.policy, minterOpts...)
	s.engine = achievement.New(s.store, achievement.WithLogger(log))

	var fallback settlement.FeeEstimator
	if len(s.baseFees) > 0 {
		fallback = settlement.NewTableEstimator(s.baseFees)
	}
	dispatchOpts := append([]settlement.Option{
		settlement.WithBridges(s.bridges...),
		settlement.WithFeeEstimator(settlement.NewOracleEstimator(s.bridges, fallback, log)),
		settlement.WithLogger(log),
	}, s.dispatchOpts...)
	s.coordinator = settlement.New(s.store, dispatchOpts...)

	s.pipeline = worker.NewPipeline(worker.Stages{
		Analyzer:  sentiment.WithFallback(s.analyzer, s.sentimentTimeout, log),
		Minter:    s.minter,
		Evaluator: s.engine,
		Settler:   s.coordinator,
	}, worker.WithSettleTimeout(s.settleTimeout), worker.WithPipelineLogger(log))

	sweeper, err := scheduler.NewSweeper(s.coordinator,
		scheduler.WithInterval(s.sweepInterval),
		scheduler.WithLogger(log),
	)
	if err != nil {
		s.coordinator.Stop()
		return fmt.Errorf("start sweeper: %w", err)
	}
	s.sweeper = sweeper

	s.receipts = dedupe.NewInMemoryDeduper[types.SupportReceipt](dedupe.WithMaxSize(s.dedupeSize))
	s.jobs = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.jobs, s.pipeline, worker.WithLogger(log))

	s.lifecycle, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.pool.Start(s.lifecycle)
	s.sweeper.Start()

	s.started = true
	log.Info(ctx, "fanpulse service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.String("policy_version", s.policy.Version()),
		logger.Int("chains", len(s.bridges)),
	)
	return nil
}

// simulatedBridges returns one simulated bridge per chain the default rules
// pay out on.
func simulatedBridges(log logger.Logger) []settlement.Bridge {
	seen := make(map[string]struct{})
	var bridges []settlement.Bridge
	for _, rule := range achievement.DefaultRuleSet().Rules {
		for _, reward := range rule.Reward.Chains {
			if _, ok := seen[reward.ChainID]; ok {
				continue
			}
			seen[reward.ChainID] = struct{}{}
			bridges = append(bridges, chain.NewSimulatedBridge(reward.ChainID))
		}
	}
	log.Debug(context.Background(), "simulated bridges ready", logger.Int("count", len(bridges)))
	return bridges
}

// Stop drains queued jobs, stops settlement and closes the store. Dispatch
// tasks interrupted here resume on the next start.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping fanpulse service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	s.detached.Wait()
	if err := s.sweeper.Stop(); err != nil {
		s.logger.Warn(ctx, "sweeper shutdown failed", logger.Error(err))
	}
	s.coordinator.Stop()
	s.cancel()
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "fanpulse service stopped")
}

// acquire holds the service open for one operation.
func (s *Service) acquire() (func(), error) {
	s.mu.RLock()
	if !s.started {
		s.mu.RUnlock()
		return func() {}, ErrNotStarted
	}
	return s.mu.RUnlock, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":      s.started,
		"worker_count": s.workerCount,
		"queue_size":   s.queueSize,
		"dedupe_size":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	queueLen := s.jobs.Len(ctx)
	stats["queue_length"] = queueLen
	stats["jobs_processed"] = s.pool.Processed()
	stats["dedupe_entries"] = s.receipts.Size()
	stats["dispatches_inflight"] = s.coordinator.Inflight()
	stats["policy_version"] = s.policy.Version()
	stats["rule_set_version"] = s.engine.Rules().Version
	if counts, err := s.store.Counts(ctx); err == nil {
		stats["records"] = counts
	} else {
		s.logger.Warn(ctx, "store counts unavailable", logger.Error(err))
	}

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateWorkerCount(s.pool.Size())
	return stats
}
