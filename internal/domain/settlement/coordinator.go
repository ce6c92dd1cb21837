// Package settlement dispatches achievement rewards to every chain in a
// rule's reward table. Each (grant, chain) pair is a persisted task with its
// own state machine, so chains fail, retry and confirm independently and a
// crash mid-dispatch resumes instead of dropping the reward.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/fanpulse/internal/adapters/repository"
	"github.com/okian/fanpulse/internal/domain/achievement"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/okian/fanpulse/pkg/metrics"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Store persists dispatch tasks.
type Store interface {
	InsertTask(ctx context.Context, t model.DispatchTask) (model.DispatchTask, bool, error)
	CompareAndSwapTask(ctx context.Context, t model.DispatchTask, expectedVersion int64) (model.DispatchTask, error)
	GetTask(ctx context.Context, id string) (model.DispatchTask, error)
	ListTasksByGrant(ctx context.Context, grantID string) ([]model.DispatchTask, error)
	ListResumableTasks(ctx context.Context, now time.Time, limit int) ([]model.DispatchTask, error)
}

// ChainResult is one chain's settlement state.
type ChainResult struct {
	ChainID  string               `json:"chain_id"`
	TaskID   string               `json:"task_id"`
	Status   model.DispatchStatus `json:"status"`
	TxRef    string               `json:"tx_ref,omitempty"`
	Fee      decimal.Decimal      `json:"native_fee"`
	Attempts int                  `json:"attempts"`
	Error    string               `json:"error,omitempty"`
}

// Result is the per-chain outcome of a grant. FailedChains lists chains that
// failed permanently and need reconciliation; the others are unaffected.
type Result struct {
	GrantID      string        `json:"grant_id"`
	RuleID       string        `json:"rule_id"`
	Chains       []ChainResult `json:"chains"`
	FailedChains []string      `json:"failed_chains"`
	Complete     bool          `json:"complete"`
}

// Coordinator drives dispatch tasks. Tasks keep running in the background
// after the caller's context ends, until they reach a terminal state or the
// coordinator stops.
type Coordinator struct {
	store          Store
	bridges        map[string]Bridge
	fees           FeeEstimator
	maxAttempts    int
	backoffBase    time.Duration
	attemptTimeout time.Duration
	pollInterval   time.Duration
	resumeBatch    int
	now            func() time.Time
	log            logger.Logger

	lifecycle context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]chan struct{}
	stopped  bool
}

// New builds a Coordinator. Without WithFeeEstimator fees come from each
// bridge's oracle.
func New(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		bridges:        make(map[string]Bridge),
		maxAttempts:    DefaultMaxAttempts,
		backoffBase:    DefaultBackoffBase,
		attemptTimeout: DefaultAttemptTimeout,
		pollInterval:   DefaultConfirmPollInterval,
		resumeBatch:    DefaultResumeBatch,
		now:            time.Now,
		log:            logger.Default(),
		inflight:       make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("settlement")
	if c.fees == nil {
		bridges := make([]Bridge, 0, len(c.bridges))
		for _, b := range c.bridges {
			bridges = append(bridges, b)
		}
		c.fees = NewOracleEstimator(bridges, nil, c.log)
	}
	c.lifecycle, c.cancel = context.WithCancel(context.Background())
	return c
}

// Backoff is the delay after the given failed attempt: base × 2^(attempt−1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Enqueue persists one PENDING task per chain of the grant's reward. It is
// idempotent: existing tasks are returned unchanged.
func (c *Coordinator) Enqueue(ctx context.Context, g achievement.Granted, fanAddress string) ([]model.DispatchTask, error) {
	if fanAddress == "" {
		fanAddress = g.Grant.FanID
	}
	now := c.now().UTC()
	tasks := make([]model.DispatchTask, 0, len(g.Rule.Reward.Chains))
	for _, reward := range g.Rule.Reward.Chains {
		id := model.DispatchKey(g.Grant.ID, reward.ChainID)
		if existing, err := c.store.GetTask(ctx, id); err == nil {
			tasks = append(tasks, existing)
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load task %s: %w", id, err)
		}

		t := model.DispatchTask{
			ID:            id,
			GrantID:       g.Grant.ID,
			FanID:         g.Grant.FanID,
			FanAddress:    fanAddress,
			RuleID:        g.Rule.ID,
			ChainID:       reward.ChainID,
			Asset:         reward.Asset,
			Amount:        reward.Amount,
			NativeFee:     decimal.Zero,
			Status:        model.DispatchPending,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		payload, err := PayloadFor(t).Encode()
		if err != nil {
			return nil, err
		}
		if fee, err := c.fees.Estimate(ctx, reward.ChainID, payload); err != nil {
			c.log.Warn(ctx, "fee estimate unavailable",
				logger.String("task_id", id), logger.Error(err))
		} else {
			t.NativeFee = fee
			metrics.RecordFeeEstimate(reward.ChainID, fee.InexactFloat64())
		}

		stored, inserted, err := c.store.InsertTask(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("insert task %s: %w", id, err)
		}
		if inserted {
			metrics.RecordDispatchTransition(reward.ChainID, string(model.DispatchPending))
		}
		tasks = append(tasks, stored)
	}
	return tasks, nil
}

// Settle enqueues the grant's tasks, drives every chain concurrently and
// waits until all are terminal or ctx ends. In the latter case the current
// snapshot is returned and the work continues in the background.
func (c *Coordinator) Settle(ctx context.Context, g achievement.Granted, fanAddress string) (Result, error) {
	tasks, err := c.Enqueue(ctx, g, fanAddress)
	if err != nil {
		return Result{}, err
	}
	done, err := c.driveAll(tasks)
	if err != nil {
		return Result{}, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Info(ctx, "settlement still running in background", logger.String("grant_id", g.Grant.ID))
	}
	return c.Result(context.WithoutCancel(ctx), g.Grant.ID)
}

// Resume re-drives due non-terminal tasks that nothing in this process is
// driving, and waits for them or for ctx. It returns how many it picked up.
func (c *Coordinator) Resume(ctx context.Context) (int, error) {
	due, err := c.store.ListResumableTasks(ctx, c.now(), c.resumeBatch)
	if err != nil {
		return 0, fmt.Errorf("list resumable tasks: %w", err)
	}
	picked := make([]model.DispatchTask, 0, len(due))
	for _, t := range due {
		if !c.isInflight(t.ID) {
			picked = append(picked, t)
		}
	}
	if len(picked) == 0 {
		return 0, nil
	}
	metrics.RecordSweeperResumed(len(picked))
	c.log.Info(ctx, "resuming dispatch tasks", logger.Int("count", len(picked)))

	done, err := c.driveAll(picked)
	if err != nil {
		return 0, err
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	return len(picked), nil
}

// Cancel moves a PENDING task to CANCELLED. Tasks that already left PENDING
// are governed by the retry policy only.
func (c *Coordinator) Cancel(ctx context.Context, taskID string) (model.DispatchTask, error) {
	for {
		t, err := c.store.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return model.DispatchTask{}, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
			}
			return model.DispatchTask{}, err
		}
		if t.Status != model.DispatchPending {
			return t, fmt.Errorf("%w: task %s is %s", ErrNotCancellable, taskID, t.Status)
		}
		cancelled, err := c.transition(ctx, t, model.DispatchCancelled, nil)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return model.DispatchTask{}, err
		}
		c.log.Info(ctx, "dispatch cancelled", logger.String("task_id", taskID))
		return cancelled, nil
	}
}

// Result reads the grant's current per-chain state.
func (c *Coordinator) Result(ctx context.Context, grantID string) (Result, error) {
	tasks, err := c.store.ListTasksByGrant(ctx, grantID)
	if err != nil {
		return Result{}, fmt.Errorf("list tasks: %w", err)
	}
	res := Result{GrantID: grantID, Chains: make([]ChainResult, 0, len(tasks)), FailedChains: []string{}, Complete: true}
	for _, t := range tasks {
		res.RuleID = t.RuleID
		res.Chains = append(res.Chains, ChainResult{
			ChainID:  t.ChainID,
			TaskID:   t.ID,
			Status:   t.Status,
			TxRef:    t.TxRef,
			Fee:      t.NativeFee,
			Attempts: t.Attempts,
			Error:    t.LastError,
		})
		if t.Status == model.DispatchFailedPermanent {
			res.FailedChains = append(res.FailedChains, t.ChainID)
		}
		if !t.Status.Terminal() {
			res.Complete = false
		}
	}
	return res, nil
}

// Inflight reports how many tasks this process is driving.
func (c *Coordinator) Inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Stop cancels background work and waits for it. Interrupted tasks keep
// their persisted state and are picked up by the next Resume.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) driveAll(tasks []model.DispatchTask) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	c.wg.Add(1)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer c.wg.Done()
		defer close(done)
		var eg errgroup.Group
		for _, t := range tasks {
			if t.Status.Terminal() {
				continue
			}
			id := t.ID
			eg.Go(func() error {
				c.runTask(id)
				return nil
			})
		}
		_ = eg.Wait()
	}()
	return done, nil
}

func (c *Coordinator) isInflight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[id]
	return ok
}

// runTask drives id unless another goroutine already is, in which case it
// waits for that driver to finish.
func (c *Coordinator) runTask(id string) {
	c.mu.Lock()
	if done, busy := c.inflight[id]; busy {
		c.mu.Unlock()
		select {
		case <-done:
		case <-c.lifecycle.Done():
		}
		return
	}
	done := make(chan struct{})
	c.inflight[id] = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
		close(done)
	}()
	c.drive(c.lifecycle, id)
}

// drive advances one task until it is terminal or ctx ends.
func (c *Coordinator) drive(ctx context.Context, id string) {
	for ctx.Err() == nil {
		t, err := c.store.GetTask(ctx, id)
		if err != nil {
			c.log.Error(ctx, "load dispatch task", logger.String("task_id", id), logger.Error(err))
			return
		}
		if t.Status.Terminal() {
			return
		}

		switch t.Status {
		case model.DispatchPending, model.DispatchRetry:
			if wait := t.NextAttemptAt.Sub(c.now()); wait > 0 && !sleep(ctx, wait) {
				return
			}
			_, err = c.transition(ctx, t, model.DispatchDispatched, func(n *model.DispatchTask) {
				n.Attempts++
				n.TxRef = ""
				n.LastError = ""
				n.NextAttemptAt = c.now().UTC().Add(c.attemptTimeout)
			})
		case model.DispatchDispatched:
			err = c.runAttempt(ctx, t)
		case model.DispatchFailed:
			err = c.afterFailure(ctx, t, false)
		default:
			err = fmt.Errorf("%w: unexpected status %s", ErrIllegalTransition, t.Status)
		}

		switch {
		case err == nil, errors.Is(err, repository.ErrConflict):
		case ctx.Err() != nil:
			return
		default:
			c.log.Error(ctx, "dispatch task stalled", logger.String("task_id", id), logger.Error(err))
			return
		}
	}
}

func (c *Coordinator) runAttempt(ctx context.Context, t model.DispatchTask) error {
	start := time.Now()
	t, err := c.attempt(ctx, t)
	latency := float64(time.Since(start).Milliseconds())
	if errors.Is(err, repository.ErrConflict) {
		return err
	}
	if ctx.Err() != nil {
		// Shutting down; the task stays DISPATCHED for the next Resume.
		return ctx.Err()
	}

	if err == nil {
		metrics.RecordDispatchAttempt(t.ChainID, "confirmed", latency)
		if _, err := c.transition(ctx, t, model.DispatchConfirmed, nil); err != nil {
			return err
		}
		c.log.Info(ctx, "reward confirmed",
			logger.String("task_id", t.ID),
			logger.String("tx_ref", t.TxRef),
			logger.Int("attempts", t.Attempts))
		return nil
	}

	metrics.RecordDispatchAttempt(t.ChainID, "failed", latency)
	c.log.Warn(ctx, "dispatch attempt failed",
		logger.String("task_id", t.ID),
		logger.Int("attempt", t.Attempts),
		logger.Error(err))
	failed, terr := c.transition(ctx, t, model.DispatchFailed, func(n *model.DispatchTask) {
		n.LastError = err.Error()
		n.TxRef = ""
	})
	if terr != nil {
		return terr
	}
	return c.afterFailure(ctx, failed, errors.Is(err, ErrPermanent))
}

// attempt submits the task, unless an earlier submit already produced a
// txRef, and polls until the chain confirms or the attempt times out.
func (c *Coordinator) attempt(ctx context.Context, t model.DispatchTask) (model.DispatchTask, error) {
	bridge, ok := c.bridges[t.ChainID]
	if !ok {
		return t, fmt.Errorf("%w: %w: %s", ErrPermanent, ErrUnknownChain, t.ChainID)
	}
	actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	if t.TxRef == "" {
		payload, err := PayloadFor(t).Encode()
		if err != nil {
			return t, fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		ref, err := bridge.Submit(actx, t.ID, payload)
		if err != nil {
			return t, fmt.Errorf("submit: %w", err)
		}
		t, err = c.transition(ctx, t, model.DispatchDispatched, func(n *model.DispatchTask) { n.TxRef = ref })
		if err != nil {
			return t, err
		}
	}

	for {
		confirmed, err := bridge.Confirm(actx, t.TxRef)
		if err != nil {
			return t, fmt.Errorf("confirm %s: %w", t.TxRef, err)
		}
		if confirmed {
			return t, nil
		}
		if !sleep(actx, c.pollInterval) {
			return t, fmt.Errorf("confirm %s: %w", t.TxRef, actx.Err())
		}
	}
}

// afterFailure schedules a retry or gives up.
func (c *Coordinator) afterFailure(ctx context.Context, t model.DispatchTask, permanent bool) error {
	if permanent || t.Attempts >= c.maxAttempts {
		if _, err := c.transition(ctx, t, model.DispatchFailedPermanent, nil); err != nil {
			return err
		}
		c.log.Error(ctx, "dispatch failed permanently",
			logger.String("task_id", t.ID),
			logger.String("chain", t.ChainID),
			logger.Int("attempts", t.Attempts),
			logger.String("last_error", t.LastError))
		return nil
	}
	delay := Backoff(c.backoffBase, t.Attempts)
	_, err := c.transition(ctx, t, model.DispatchRetry, func(n *model.DispatchTask) {
		n.NextAttemptAt = c.now().UTC().Add(delay)
	})
	return err
}

// transition moves t to status `to` with a CAS on its version.
func (c *Coordinator) transition(ctx context.Context, t model.DispatchTask, to model.DispatchStatus, mutate func(*model.DispatchTask)) (model.DispatchTask, error) {
	if !CanTransition(t.Status, to) {
		return t, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Status, to)
	}
	next := t
	if mutate != nil {
		mutate(&next)
	}
	next.Status = to
	next.UpdatedAt = c.now().UTC()
	saved, err := c.store.CompareAndSwapTask(ctx, next, t.Version)
	if err != nil {
		return t, err
	}
	if to != t.Status {
		metrics.RecordDispatchTransition(t.ChainID, string(to))
	}
	return saved, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
