// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/okian/fanpulse/pkg/logger"
)

const (
	defaultSweepInterval = 15 * time.Second
	sweeperJobName       = "dispatch-sweeper"
)

// Resumer re-drives dispatch tasks that are due.
type Resumer interface {
	Resume(ctx context.Context) (int, error)
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets how often the sweep runs.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// Sweeper periodically resumes stuck or due dispatch tasks so a crash
// mid-settlement delays a reward instead of dropping it. Runs never overlap.
type Sweeper struct {
	resumer  Resumer
	interval time.Duration
	sched    gocron.Scheduler
	log      logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSweeper builds a sweeper; Start begins scheduling.
func NewSweeper(resumer Resumer, opts ...Option) (*Sweeper, error) {
	s := &Sweeper{
		resumer:  resumer,
		interval: defaultSweepInterval,
		log:      logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("sweeper")
	s.ctx, s.cancel = context.WithCancel(context.Background())

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.sweep),
		gocron.WithName(sweeperJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule %s: %w", sweeperJobName, err)
	}
	s.sched = sched
	return s, nil
}

// Start begins running the sweep, the first one immediately.
func (s *Sweeper) Start() {
	s.sched.Start()
	s.log.Info(s.ctx, "sweeper started", logger.Duration("interval", s.interval))
}

// Stop cancels a running sweep and shuts the scheduler down.
func (s *Sweeper) Stop() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("stop sweeper: %w", err)
	}
	return nil
}

// sweep bounds each run by the interval so a slow chain cannot stall the
// schedule.
func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()
	n, err := s.resumer.Resume(ctx)
	if err != nil {
		s.log.Error(ctx, "sweep failed", logger.Error(err))
		return
	}
	if n > 0 {
		s.log.Info(ctx, "sweep resumed dispatch tasks", logger.Int("count", n))
	}
}
