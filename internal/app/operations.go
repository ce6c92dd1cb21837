package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/fanpulse/internal/domain/achievement"
	"github.com/okian/fanpulse/internal/domain/dedupe"
	"github.com/okian/fanpulse/internal/domain/ledger"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/types"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/okian/fanpulse/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// RecordSupport commits a support and hands the post-commit work to the
// worker pool. A fan repeating a RequestID gets the first receipt marked as
// a duplicate instead of being charged twice; reusing it for a different
// support fails with types.ErrRequestMismatch.
func (s *Service) RecordSupport(ctx context.Context, req types.SupportRequest) (types.SupportReceipt, error) {
	release, err := s.acquire()
	defer release()
	if err != nil {
		return types.SupportReceipt{}, err
	}

	key := req.IdempotencyKey()
	if key != "" {
		prev, state := s.receipts.Reserve(ctx, key)
		switch state {
		case dedupe.Done:
			if !prev.Matches(req) {
				return types.SupportReceipt{}, fmt.Errorf("%w: %s", types.ErrRequestMismatch, req.RequestID)
			}
			metrics.RecordSupportReplay()
			prev.Duplicate = true
			return prev, nil
		case dedupe.InFlight:
			return types.SupportReceipt{}, fmt.Errorf("%w: %s", types.ErrRequestInFlight, req.RequestID)
		case dedupe.Fresh:
		}
	}

	tx, err := s.ledger.RecordSupport(ctx, ledger.SupportRequest{
		FanID:     strings.TrimSpace(req.FanID),
		AthleteID: strings.TrimSpace(req.AthleteID),
		Amount:    req.Amount,
		Tier:      req.Tier,
	})
	if err != nil {
		if key != "" {
			s.receipts.Release(ctx, key)
		}
		return types.SupportReceipt{}, err
	}

	receipt := types.ReceiptFor(tx)
	if key != "" {
		s.receipts.Complete(ctx, key, receipt)
	}
	s.dispatch(ctx, model.SupportJob{
		Transaction:  tx,
		ReactionText: req.Reaction,
		FanAddress:   req.Address(),
	})
	return receipt, nil
}

// dispatch queues the post-commit job. The support is already committed, so
// a job the queue cannot take runs on a detached goroutine instead of being
// dropped.
func (s *Service) dispatch(ctx context.Context, job model.SupportJob) {
	err := s.jobs.Enqueue(ctx, job)
	if err == nil {
		return
	}
	s.logger.Warn(ctx, "job queue unavailable, processing detached",
		logger.String("transaction_id", job.Transaction.ID),
		logger.Error(err))

	s.detached.Add(1)
	go func() {
		defer s.detached.Done()
		if err := s.pipeline.Process(s.lifecycle, job); err != nil {
			s.logger.Error(s.lifecycle, "detached job failed",
				logger.String("transaction_id", job.Transaction.ID),
				logger.Error(err))
		}
	}()
}

// GetReaction returns the collectible minted for a transaction.
func (s *Service) GetReaction(ctx context.Context, transactionID string) (model.ReactionRecord, error) {
	release, err := s.acquire()
	defer release()
	if err != nil {
		return model.ReactionRecord{}, err
	}
	return s.minter.Get(ctx, transactionID)
}

// RegisterAthlete creates an active athlete.
func (s *Service) RegisterAthlete(ctx context.Context, req types.AthleteRequest) (model.Athlete, error) {
	release, err := s.acquire()
	defer release()
	if err != nil {
		return model.Athlete{}, err
	}
	return s.ledger.RegisterAthlete(ctx, ledger.AthleteRegistration{ID: req.ID, Name: req.Name, Sport: req.Sport})
}

// SetAthleteActive toggles whether an athlete accepts supports.
func (s *Service) SetAthleteActive(ctx context.Context, athleteID string, active bool) (model.Athlete, error) {
	release, err := s.acquire()
	defer release()
	if err != nil {
		return model.Athlete{}, err
	}
	return s.ledger.SetAthleteActive(ctx, athleteID, active)
}

// GetAthlete returns one athlete.
func (s *Service) GetAthlete(ctx context.Context, athleteID string) (model.Athlete, error) {
	release, err := s.acquire()
	defer release()
	if err != nil {
		return model.Athlete{}, err
	}
	return s.ledger.GetAthlete(ctx, athleteID)
}

// TopAthletes ranks athletes by cumulative earnings.
func (s *Service) TopAthletes(ctx context.Context, n int) ([]model.Athlete, error) {
	release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}
	return s.ledger.TopAthletes(ctx, n)
}

// GetFan returns one fan.
func (s *Service) GetFan(ctx context.Context, fanID string) (model.Fan, error) {
	release, err := s.acquire()
	defer release()
	if err != nil {
		return model.Fan{}, err
	}
	return s.ledger.GetFan(ctx, fanID)
}

// GetAchievementProgress lists the rules a fan holds and those still open.
func (s *Service) GetAchievementProgress(ctx context.Context, fanID string) (achievement.Progress, error) {
	release, err := s.acquire()
	defer release()
	if err != nil {
		return achievement.Progress{}, err
	}
	fanID = strings.TrimSpace(fanID)
	if fanID == "" {
		return achievement.Progress{}, fmt.Errorf("%w: fan id is required", achievement.ErrInvalidEvent)
	}
	return s.engine.Progress(ctx, fanID)
}

type settleItem struct {
	granted  achievement.Granted
	replayed bool
}

// TriggerAndSettle evaluates one fan event and settles every grant it
// produced on all reward chains. Rules granted earlier and satisfied again
// are re-driven idempotently and reported as replayed, so calling twice with
// the same event never grants twice. When settlement outlives the settle
// timeout the response holds the current per-chain snapshot and the tasks
// continue in the background.
func (s *Service) TriggerAndSettle(ctx context.Context, fanID string, fe types.FanEvent) (types.SettleResponse, error) {
	release, err := s.acquire()
	defer release()
	if err != nil {
		return types.SettleResponse{}, err
	}

	ev := fe.Event(strings.TrimSpace(fanID), s.now().UTC())
	outcome, evalErr := s.engine.Evaluate(ctx, ev)
	items := make([]settleItem, 0, len(outcome.Granted)+len(outcome.Replayed))
	for _, g := range outcome.Granted {
		items = append(items, settleItem{granted: g})
	}
	for _, g := range outcome.Replayed {
		items = append(items, settleItem{granted: g, replayed: true})
	}
	if evalErr != nil && len(items) == 0 {
		return types.SettleResponse{}, evalErr
	}

	address := strings.TrimSpace(fe.FanAddress)
	if address == "" {
		address = ev.FanID
	}

	settleCtx, cancel := context.WithTimeout(ctx, s.settleTimeout)
	defer cancel()
	results := make([]types.GrantSettlement, len(items))
	eg, egCtx := errgroup.WithContext(settleCtx)
	for i, item := range items {
		eg.Go(func() error {
			res, err := s.coordinator.Settle(egCtx, item.granted, address)
			if err != nil {
				return fmt.Errorf("settle %s: %w", item.granted.Rule.ID, err)
			}
			results[i] = types.GrantSettlement{Result: res, Replayed: item.replayed}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return types.SettleResponse{}, err
	}

	for _, r := range results {
		if len(r.FailedChains) > 0 {
			s.logger.Warn(ctx, "grant settled with failed chains",
				logger.String("grant_id", r.GrantID),
				logger.Any("failed_chains", r.FailedChains))
		}
	}
	resp := types.SettleResponse{FanID: ev.FanID, Grants: results}
	if evalErr != nil {
		return resp, evalErr
	}
	return resp, nil
}

// CancelDispatch cancels a dispatch task still waiting to be sent.
func (s *Service) CancelDispatch(ctx context.Context, taskID string) (model.DispatchTask, error) {
	release, err := s.acquire()
	defer release()
	if err != nil {
		return model.DispatchTask{}, err
	}
	return s.coordinator.Cancel(ctx, taskID)
}
