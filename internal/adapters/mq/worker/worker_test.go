package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/fanpulse/internal/adapters/mq/queue"
	"github.com/okian/fanpulse/internal/adapters/mq/worker"
	"github.com/okian/fanpulse/internal/adapters/repository"
	"github.com/okian/fanpulse/internal/domain/achievement"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/reaction"
	"github.com/okian/fanpulse/internal/domain/sentiment"
	"github.com/okian/fanpulse/internal/domain/settlement"
	logging "github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.Init()
}

type mockQueue struct {
	jobs chan model.SupportJob
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan model.SupportJob, 128)}
}

func (q *mockQueue) Dequeue(context.Context) <-chan model.SupportJob { return q.jobs }

func (q *mockQueue) Close() error {
	close(q.jobs)
	return nil
}

type processorFunc func(ctx context.Context, job model.SupportJob) error

func (f processorFunc) Process(ctx context.Context, job model.SupportJob) error { return f(ctx, job) }

type fixedAnalyzer struct {
	analysis sentiment.Analysis
	err      error
}

func (a fixedAnalyzer) Analyze(context.Context, string) (sentiment.Analysis, error) {
	return a.analysis, a.err
}

type stubMinter struct {
	err   error
	calls atomic.Int64
}

func (m *stubMinter) MintReaction(_ context.Context, tx model.SupportTransaction, _ string, _ float64) (model.ReactionRecord, error) {
	m.calls.Add(1)
	if m.err != nil {
		return model.ReactionRecord{SupportTransactionID: tx.ID}, m.err
	}
	return model.ReactionRecord{SupportTransactionID: tx.ID, Rarity: model.RarityRare}, nil
}

type recordingSettler struct {
	mu      sync.Mutex
	settled []string
}

func (s *recordingSettler) Settle(_ context.Context, g achievement.Granted, _ string) (settlement.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, g.Rule.ID)
	return settlement.Result{GrantID: g.Grant.ID, RuleID: g.Rule.ID, Complete: true}, nil
}

func (s *recordingSettler) rules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.settled...)
	sort.Strings(out)
	return out
}

func supportJob(id string, amount int64) model.SupportJob {
	return model.SupportJob{
		Transaction: model.SupportTransaction{
			ID: id, FanID: "0xfan", AthleteID: "ath", GrossAmount: decimal.NewFromInt(amount),
		},
		ReactionText: "what a goal!!",
	}
}

func TestPipeline(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a pipeline over a real rule engine", t, func() {
		store := repository.NewMemoryStore(ctx)
		convey.Reset(func() { _ = store.Close() })
		engine := achievement.New(store)
		minter := &stubMinter{}
		settler := &recordingSettler{}
		viral := fixedAnalyzer{analysis: sentiment.Analysis{Sentiment: sentiment.Positive, Intensity: 0.9, ViralityScore: 0.9}}
		stages := worker.Stages{Analyzer: viral, Minter: minter, Evaluator: engine, Settler: settler}

		convey.Convey("When a viral first support is processed", func() {
			err := worker.NewPipeline(stages).Process(ctx, supportJob("tx1", 10))

			convey.Convey("Then both achievements are granted and settled", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(minter.calls.Load(), convey.ShouldEqual, 1)
				convey.So(settler.rules(), convey.ShouldResemble, []string{achievement.RuleChampionSupport, achievement.RuleViralReaction})
			})

			convey.Convey("And replaying the job re-drives settlement without new grants", func() {
				err := worker.NewPipeline(stages).Process(ctx, supportJob("tx1", 10))
				convey.So(err, convey.ShouldBeNil)
				grants, _ := store.ListGrants(ctx, "0xfan")
				convey.So(grants, convey.ShouldHaveLength, 2)
				convey.So(settler.rules(), convey.ShouldHaveLength, 4)
			})
		})

		convey.Convey("When the minter reports a duplicate", func() {
			minter.err = reaction.ErrDuplicateMint
			err := worker.NewPipeline(stages).Process(ctx, supportJob("tx1", 10))

			convey.Convey("Then the reaction event is still evaluated", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(settler.rules(), convey.ShouldContain, achievement.RuleViralReaction)
			})
		})

		convey.Convey("When minting fails", func() {
			minter.err = errors.New("store down")
			err := worker.NewPipeline(stages).Process(ctx, supportJob("tx1", 10))

			convey.Convey("Then support achievements still settle and the error is reported", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "mint tx1")
				convey.So(settler.rules(), convey.ShouldResemble, []string{achievement.RuleChampionSupport})
			})
		})

		convey.Convey("When sentiment analysis fails", func() {
			stages.Analyzer = fixedAnalyzer{err: errors.New("model offline")}
			err := worker.NewPipeline(stages).Process(ctx, supportJob("tx1", 10))

			convey.Convey("Then the neutral score is used and nothing goes viral", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(settler.rules(), convey.ShouldResemble, []string{achievement.RuleChampionSupport})
			})
		})
	})
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a queue", t, func() {
		q := newMockQueue()
		var mu sync.Mutex
		var seen []string
		proc := processorFunc(func(_ context.Context, job model.SupportJob) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, job.Transaction.ID)
			if job.Transaction.ID == "bad" {
				return errors.New("boom")
			}
			return nil
		})
		w := worker.NewInMemoryWorker(q, proc, worker.WithName("test-worker"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When jobs arrive, including a failing one", func() {
			q.jobs <- supportJob("bad", 1)
			q.jobs <- supportJob("good", 1)

			convey.Convey("Then the worker keeps going", func() {
				deadline := time.Now().Add(time.Second)
				for w.Processed() < 2 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				convey.So(w.Processed(), convey.ShouldEqual, 2)
				mu.Lock()
				convey.So(seen, convey.ShouldResemble, []string{"bad", "good"})
				mu.Unlock()
			})
		})

		convey.Convey("When shutting down", func() {
			sctx, scancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer scancel()
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of four workers over an in-memory queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(1000))
		var count atomic.Int64
		proc := processorFunc(func(context.Context, model.SupportJob) error {
			count.Add(1)
			return nil
		})
		pool := worker.NewPool(4, q, proc)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)
		convey.So(pool.Size(), convey.ShouldEqual, 4)

		convey.Convey("When many jobs are enqueued and the pool shuts down", func() {
			const jobs = 200
			for i := 0; i < jobs; i++ {
				convey.So(q.Enqueue(ctx, supportJob(fmt.Sprintf("tx-%d", i), 1)), convey.ShouldBeNil)
			}
			err := pool.Shutdown(context.Background())

			convey.Convey("Then every queued job is processed first", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(count.Load(), convey.ShouldEqual, jobs)
				convey.So(pool.Processed(), convey.ShouldEqual, jobs)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("A pool with no count picks a default size", t, func() {
		pool := worker.NewPool(0, newMockQueue(), processorFunc(func(context.Context, model.SupportJob) error { return nil }))
		convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
	})
}
