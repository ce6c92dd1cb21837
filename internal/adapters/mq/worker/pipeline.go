package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/fanpulse/internal/domain/achievement"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/reaction"
	"github.com/okian/fanpulse/internal/domain/sentiment"
	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/okian/fanpulse/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const defaultSettleTimeout = 10 * time.Second

// Minter mints the reaction collectible of a support.
type Minter interface {
	MintReaction(ctx context.Context, tx model.SupportTransaction, excerpt string, virality float64) (model.ReactionRecord, error)
}

// Evaluator grants achievements for fan events.
type Evaluator interface {
	Evaluate(ctx context.Context, ev achievement.Event) (achievement.Outcome, error)
}

// Settler dispatches a grant's rewards.
type Settler interface {
	Settle(ctx context.Context, g achievement.Granted, fanAddress string) (settlement.Result, error)
}

// Stages are the steps a support job runs through, in order.
type Stages struct {
	Analyzer  sentiment.Analyzer
	Minter    Minter
	Evaluator Evaluator
	Settler   Settler
}

// Pipeline processes one support job: analyze the reaction text, mint the
// collectible, evaluate achievements and settle what was granted. A failing
// stage is recorded and the remaining stages still run.
type Pipeline struct {
	stages        Stages
	settleTimeout time.Duration
	log           logger.Logger
}

// NewPipeline builds a Pipeline over stages.
func NewPipeline(stages Stages, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		stages:        stages,
		settleTimeout: defaultSettleTimeout,
		log:           logger.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Named("pipeline")
	return p
}

// Process runs job through every stage.
func (p *Pipeline) Process(ctx context.Context, job model.SupportJob) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	tx := job.Transaction
	analysis, err := p.stages.Analyzer.Analyze(ctx, job.ReactionText)
	if err != nil {
		p.log.Warn(ctx, "sentiment unavailable", logger.String("transaction_id", tx.ID), logger.Error(err))
		analysis = sentiment.NeutralAnalysis()
	}

	var errs []error
	events := []achievement.Event{{
		Kind:          achievement.EventSupportRecorded,
		FanID:         tx.FanID,
		TransactionID: tx.ID,
		Amount:        tx.GrossAmount,
		OccurredAt:    tx.CreatedAt,
	}}

	rec, err := p.stages.Minter.MintReaction(ctx, tx, job.ReactionText, analysis.ViralityScore)
	switch {
	case err == nil:
		p.log.Debug(ctx, "reaction minted",
			logger.String("transaction_id", tx.ID),
			logger.String("rarity", string(rec.Rarity)))
		fallthrough
	case errors.Is(err, reaction.ErrDuplicateMint):
		events = append(events, achievement.Event{
			Kind:          achievement.EventReactionMinted,
			FanID:         tx.FanID,
			TransactionID: tx.ID,
			Amount:        tx.GrossAmount,
			ViralityScore: analysis.ViralityScore,
			OccurredAt:    tx.CreatedAt,
		})
	default:
		metrics.RecordWorkerError("mint")
		errs = append(errs, fmt.Errorf("mint %s: %w", tx.ID, err))
	}

	grants, err := p.evaluate(ctx, events)
	if err != nil {
		metrics.RecordWorkerError("evaluate")
		errs = append(errs, err)
	}
	if err := p.settle(ctx, grants, job.FanAddress); err != nil {
		metrics.RecordWorkerError("settle")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// evaluate returns new and replayed grants across events, without repeats.
// Replayed grants are settled again so a crash between grant and dispatch
// cannot lose the reward; settlement is idempotent.
func (p *Pipeline) evaluate(ctx context.Context, events []achievement.Event) ([]achievement.Granted, error) {
	seen := make(map[string]struct{})
	var out []achievement.Granted
	var errs []error
	for _, ev := range events {
		outcome, err := p.stages.Evaluator.Evaluate(ctx, ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("evaluate %s: %w", ev.Kind, err))
		}
		for _, g := range append(outcome.Granted, outcome.Replayed...) {
			if _, ok := seen[g.Grant.ID]; ok {
				continue
			}
			seen[g.Grant.ID] = struct{}{}
			out = append(out, g)
		}
	}
	return out, errors.Join(errs...)
}

func (p *Pipeline) settle(ctx context.Context, grants []achievement.Granted, fanAddress string) error {
	if len(grants) == 0 {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, p.settleTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		errs []error
		eg   errgroup.Group
	)
	for _, g := range grants {
		eg.Go(func() error {
			res, err := p.stages.Settler.Settle(sctx, g, fanAddress)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("settle %s: %w", g.Grant.ID, err))
				mu.Unlock()
				return nil
			}
			if len(res.FailedChains) > 0 {
				p.log.Warn(ctx, "reward needs reconciliation",
					logger.String("grant_id", g.Grant.ID),
					logger.Any("failed_chains", res.FailedChains))
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}
