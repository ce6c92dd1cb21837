// Package ledger records fan supports: it validates the payment, splits it
// between athlete and platform, awards reward tokens and updates the
// cumulative counters of both parties in one atomic commit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/okian/fanpulse/internal/adapters/repository"
	"github.com/okian/fanpulse/internal/domain/keylock"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/policy"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/okian/fanpulse/pkg/metrics"
	"github.com/shopspring/decimal"
)

const (
	defaultMaxRetries   = 5
	defaultRetryBackoff = 5 * time.Millisecond
)

// Store is the persistence the ledger needs.
type Store interface {
	CreateAthlete(ctx context.Context, a model.Athlete) (model.Athlete, error)
	UpdateAthlete(ctx context.Context, a model.Athlete, expectedVersion int64) (model.Athlete, error)
	GetAthlete(ctx context.Context, id string) (model.Athlete, error)
	TopAthletes(ctx context.Context, n int) ([]model.Athlete, error)
	GetFan(ctx context.Context, id string) (model.Fan, error)
	HasSupported(ctx context.Context, fanID, athleteID string) (bool, error)
	CommitSupport(ctx context.Context, c model.SupportCommit) error
}

// SupportRequest is one fan payment toward an athlete.
type SupportRequest struct {
	FanID     string
	AthleteID string
	Amount    decimal.Decimal
	Tier      string
}

// AthleteRegistration describes a new athlete. An empty ID is derived from
// the name.
type AthleteRegistration struct {
	ID    string
	Name  string
	Sport string
}

// Ledger serializes writers per athlete and per fan.
type Ledger struct {
	store        Store
	policy       *policy.Policy
	locks        *keylock.Manager
	maxRetries   int
	retryBackoff time.Duration
	now          func() time.Time
	newID        func() string
	log          logger.Logger
}

// New builds a Ledger over store using the given reward policy.
func New(store Store, pol *policy.Policy, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		policy:       pol,
		locks:        keylock.New(),
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
		now:          time.Now,
		newID:        uuid.NewString,
		log:          logger.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.Named("ledger")
	return l
}

// Policy returns the reward policy in force.
func (l *Ledger) Policy() *policy.Policy { return l.policy }

// RecordSupport validates req and commits it. Validation failures persist
// nothing. Commit conflicts are retried; when retries run out the error
// wraps ErrConcurrencyConflict and the caller may try again.
func (l *Ledger) RecordSupport(ctx context.Context, req SupportRequest) (model.SupportTransaction, error) {
	start := time.Now()

	tier, err := l.validate(req)
	if err != nil {
		return model.SupportTransaction{}, err
	}

	unlock, err := l.locks.Lock(ctx, "athlete:"+req.AthleteID, "fan:"+req.FanID)
	if err != nil {
		return model.SupportTransaction{}, fmt.Errorf("acquire ledger locks: %w", err)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		tx, err := l.commit(ctx, req, tier)
		if err == nil {
			metrics.RecordLedgerCommitLatency(float64(time.Since(start).Milliseconds()))
			metrics.RecordSupport(tier.Name, tx.GrossAmount.InexactFloat64(), tx.TokensAwarded.InexactFloat64())
			l.log.Debug(ctx, "support recorded",
				logger.String("transaction_id", tx.ID),
				logger.String("athlete_id", tx.AthleteID),
				logger.String("fan_id", tx.FanID),
				logger.Stringer("gross", tx.GrossAmount),
				logger.Stringer("athlete_share", tx.AthleteShare))
			return tx, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return model.SupportTransaction{}, err
		}

		metrics.RecordLedgerConflict()
		if attempt >= l.maxRetries {
			l.log.Warn(ctx, "support commit retries exhausted",
				logger.String("athlete_id", req.AthleteID),
				logger.String("fan_id", req.FanID),
				logger.Int("attempts", attempt+1))
			return model.SupportTransaction{}, fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
		}
		if err := l.pause(ctx); err != nil {
			return model.SupportTransaction{}, err
		}
	}
}

func (l *Ledger) validate(req SupportRequest) (policy.Tier, error) {
	if strings.TrimSpace(req.FanID) == "" || strings.TrimSpace(req.AthleteID) == "" {
		metrics.RecordLedgerRejection("invalid_request")
		return policy.Tier{}, fmt.Errorf("%w: fan and athlete are required", ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		metrics.RecordLedgerRejection("invalid_amount")
		return policy.Tier{}, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, req.Amount)
	}
	tier, err := l.policy.Tier(req.Tier)
	if err != nil {
		metrics.RecordLedgerRejection("unknown_tier")
		return policy.Tier{}, err
	}
	if req.Amount.LessThan(tier.Floor) {
		metrics.RecordLedgerRejection("below_tier_floor")
		return policy.Tier{}, fmt.Errorf("%w: %s is below the %s floor of %s", ErrInvalidAmount, req.Amount, tier.Name, tier.Floor)
	}
	return tier, nil
}

// commit reads the current counters and applies one support on top of them.
func (l *Ledger) commit(ctx context.Context, req SupportRequest, tier policy.Tier) (model.SupportTransaction, error) {
	athlete, err := l.store.GetAthlete(ctx, req.AthleteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.RecordLedgerRejection("unknown_athlete")
			return model.SupportTransaction{}, fmt.Errorf("%w: %s", ErrUnknownAthlete, req.AthleteID)
		}
		return model.SupportTransaction{}, fmt.Errorf("load athlete: %w", err)
	}
	if !athlete.IsActive {
		metrics.RecordLedgerRejection("inactive_athlete")
		return model.SupportTransaction{}, fmt.Errorf("%w: %s", ErrInactiveAthlete, athlete.ID)
	}

	now := l.now().UTC()
	fan, err := l.store.GetFan(ctx, req.FanID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		fan = model.NewFan(req.FanID, now)
	case err != nil:
		return model.SupportTransaction{}, fmt.Errorf("load fan: %w", err)
	}

	supported, err := l.store.HasSupported(ctx, fan.ID, athlete.ID)
	if err != nil {
		return model.SupportTransaction{}, fmt.Errorf("load supporter pair: %w", err)
	}

	share, fee := l.policy.Split(req.Amount)
	tokens := l.policy.Tokens(req.Amount)
	tx := model.SupportTransaction{
		ID:            l.newID(),
		FanID:         fan.ID,
		AthleteID:     athlete.ID,
		GrossAmount:   req.Amount,
		AthleteShare:  share,
		PlatformFee:   fee,
		TokensAwarded: tokens,
		ReactionTier:  tier.Name,
		PolicyVersion: l.policy.Version(),
		CreatedAt:     now,
	}

	c := model.SupportCommit{
		Transaction:            tx,
		ExpectedAthleteVersion: athlete.Version,
		ExpectedFanVersion:     fan.Version,
		FirstSupport:           !supported,
	}

	athlete.CumulativeEarnings = athlete.CumulativeEarnings.Add(share)
	athlete.TransactionCount++
	if !supported {
		athlete.FanCount++
	}
	athlete.UpdatedAt = now
	c.Athlete = athlete

	fan.CumulativeContributed = fan.CumulativeContributed.Add(req.Amount)
	fan.RewardTokenBalance = fan.RewardTokenBalance.Add(tokens)
	fan.SupportCount++
	fan.UpdatedAt = now
	c.Fan = fan

	if err := l.store.CommitSupport(ctx, c); err != nil {
		return model.SupportTransaction{}, err
	}
	return tx, nil
}

func (l *Ledger) pause(ctx context.Context) error {
	if l.retryBackoff <= 0 {
		return nil
	}
	t := time.NewTimer(rand.N(l.retryBackoff) + 1)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RegisterAthlete creates an active athlete with zero counters.
func (l *Ledger) RegisterAthlete(ctx context.Context, reg AthleteRegistration) (model.Athlete, error) {
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return model.Athlete{}, fmt.Errorf("%w: athlete name is required", ErrInvalidRequest)
	}
	id := strings.TrimSpace(reg.ID)
	if id == "" {
		id = slug.Make(name)
	}
	if id == "" {
		return model.Athlete{}, fmt.Errorf("%w: cannot derive an id from %q", ErrInvalidRequest, name)
	}

	now := l.now().UTC()
	a, err := l.store.CreateAthlete(ctx, model.Athlete{
		ID:                 id,
		Name:               name,
		Sport:              strings.TrimSpace(reg.Sport),
		CumulativeEarnings: decimal.Zero,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return model.Athlete{}, fmt.Errorf("%w: %s", ErrAthleteExists, id)
		}
		return model.Athlete{}, fmt.Errorf("register athlete: %w", err)
	}
	l.log.Info(ctx, "athlete registered", logger.String("athlete_id", a.ID), logger.String("name", a.Name))
	return a, nil
}

// SetAthleteActive toggles whether an athlete accepts supports.
func (l *Ledger) SetAthleteActive(ctx context.Context, id string, active bool) (model.Athlete, error) {
	unlock, err := l.locks.Lock(ctx, "athlete:"+id)
	if err != nil {
		return model.Athlete{}, fmt.Errorf("acquire ledger locks: %w", err)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		a, err := l.GetAthlete(ctx, id)
		if err != nil {
			return model.Athlete{}, err
		}
		if a.IsActive == active {
			return a, nil
		}
		expected := a.Version
		a.IsActive = active
		a.UpdatedAt = l.now().UTC()
		updated, err := l.store.UpdateAthlete(ctx, a, expected)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return model.Athlete{}, fmt.Errorf("update athlete: %w", err)
		}
		if attempt >= l.maxRetries {
			return model.Athlete{}, fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
		}
	}
}

// GetAthlete returns ErrUnknownAthlete for unknown ids.
func (l *Ledger) GetAthlete(ctx context.Context, id string) (model.Athlete, error) {
	a, err := l.store.GetAthlete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Athlete{}, fmt.Errorf("%w: %s", ErrUnknownAthlete, id)
	}
	return a, err
}

// GetFan returns ErrUnknownFan for fans that never supported anyone.
func (l *Ledger) GetFan(ctx context.Context, id string) (model.Fan, error) {
	f, err := l.store.GetFan(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Fan{}, fmt.Errorf("%w: %s", ErrUnknownFan, id)
	}
	return f, err
}

// TopAthletes ranks athletes by cumulative earnings, ties broken by id.
func (l *Ledger) TopAthletes(ctx context.Context, n int) ([]model.Athlete, error) {
	return l.store.TopAthletes(ctx, n)
}
