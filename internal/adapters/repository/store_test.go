package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/fanpulse/internal/adapters/repository"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func athlete(id string, earnings int64) model.Athlete {
	return model.Athlete{
		ID: id, Name: "Athlete " + id, Sport: "football",
		CumulativeEarnings: decimal.NewFromInt(earnings),
		IsActive:           true, CreatedAt: t0, UpdatedAt: t0,
	}
}

func commitFor(a model.Athlete, f model.Fan, first bool, gross int64) model.SupportCommit {
	g := decimal.NewFromInt(gross)
	tx := model.SupportTransaction{
		ID: uuid.NewString(), FanID: f.ID, AthleteID: a.ID,
		GrossAmount: g, AthleteShare: g, PlatformFee: decimal.Zero,
		TokensAwarded: g.Mul(decimal.NewFromInt(1000)),
		ReactionTier:  "clap", PolicyVersion: "v1", CreatedAt: t0,
	}
	expectedA, expectedF := a.Version, f.Version
	a.CumulativeEarnings = a.CumulativeEarnings.Add(g)
	a.TransactionCount++
	if first {
		a.FanCount++
	}
	f.CumulativeContributed = f.CumulativeContributed.Add(g)
	f.SupportCount++
	return model.SupportCommit{
		Transaction: tx, Athlete: a, ExpectedAthleteVersion: expectedA,
		Fan: f, ExpectedFanVersion: expectedF, FirstSupport: first,
	}
}

// runStoreContract exercises the behavior every Store must share.
func runStoreContract(t *testing.T, name string, open func() repository.Store) {
	ctx := context.Background()

	Convey("Given a "+name, t, func() {
		s := open()
		Reset(func() { _ = s.Close() })
		suffix := uuid.NewString()[:8]
		aID := "a-" + suffix
		fID := "0xfan-" + suffix

		created, err := s.CreateAthlete(ctx, athlete(aID, 0))
		So(err, ShouldBeNil)
		So(created.Version, ShouldEqual, 1)

		Convey("When the same athlete is created twice", func() {
			_, err := s.CreateAthlete(ctx, athlete(aID, 0))
			Convey("Then the second create conflicts", func() {
				So(errors.Is(err, repository.ErrConflict), ShouldBeTrue)
			})
		})

		Convey("When an athlete is updated with a stale version", func() {
			a := created
			a.IsActive = false
			updated, err := s.UpdateAthlete(ctx, a, 1)
			So(err, ShouldBeNil)
			So(updated.Version, ShouldEqual, 2)

			_, err = s.UpdateAthlete(ctx, a, 1)
			Convey("Then the stale write conflicts", func() {
				So(errors.Is(err, repository.ErrConflict), ShouldBeTrue)
				got, err := s.GetAthlete(ctx, aID)
				So(err, ShouldBeNil)
				So(got.IsActive, ShouldBeFalse)
			})
		})

		Convey("When unknown rows are read", func() {
			_, errA := s.GetAthlete(ctx, "missing-"+suffix)
			_, errF := s.GetFan(ctx, "missing-"+suffix)
			_, errT := s.GetTransaction(ctx, "missing-"+suffix)
			_, errR := s.GetReactionByTransaction(ctx, "missing-"+suffix)
			_, errK := s.GetTask(ctx, "missing-"+suffix)
			Convey("Then each returns ErrNotFound", func() {
				for _, err := range []error{errA, errF, errT, errR, errK} {
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				}
			})
		})

		Convey("When a first support is committed", func() {
			c := commitFor(created, model.NewFan(fID, t0), true, 10)
			So(s.CommitSupport(ctx, c), ShouldBeNil)

			Convey("Then counters, supporter pair and transaction are stored", func() {
				a, _ := s.GetAthlete(ctx, aID)
				So(a.CumulativeEarnings.String(), ShouldEqual, "10")
				So(a.FanCount, ShouldEqual, 1)
				So(a.Version, ShouldEqual, 2)

				f, err := s.GetFan(ctx, fID)
				So(err, ShouldBeNil)
				So(f.Version, ShouldEqual, 1)
				So(f.SupportCount, ShouldEqual, 1)

				ok, _ := s.HasSupported(ctx, fID, aID)
				So(ok, ShouldBeTrue)

				tx, err := s.GetTransaction(ctx, c.Transaction.ID)
				So(err, ShouldBeNil)
				So(tx.GrossAmount.String(), ShouldEqual, "10")
			})

			Convey("And replaying the same expectations conflicts", func() {
				again := commitFor(created, model.NewFan(fID, t0), true, 10)
				err := s.CommitSupport(ctx, again)
				So(errors.Is(err, repository.ErrConflict), ShouldBeTrue)
				a, _ := s.GetAthlete(ctx, aID)
				So(a.CumulativeEarnings.String(), ShouldEqual, "10")
			})
		})

		Convey("When athletes are ranked", func() {
			_, _ = s.CreateAthlete(ctx, athlete("b-"+suffix, 0))
			top, err := s.TopAthletes(ctx, 1000)
			So(err, ShouldBeNil)
			So(len(top), ShouldBeGreaterThanOrEqualTo, 2)
			for i := 1; i < len(top); i++ {
				So(top[i-1].CumulativeEarnings.GreaterThanOrEqual(top[i].CumulativeEarnings), ShouldBeTrue)
			}
			_, err = s.TopAthletes(ctx, 0)
			So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
		})

		Convey("When a reaction is inserted twice for one transaction", func() {
			txID := "tx-" + suffix
			r := model.ReactionRecord{ID: "r1-" + suffix, SupportTransactionID: txID, FanID: fID,
				Rarity: model.RarityEpic, Metadata: model.ReactionMetadata{AthleteName: "A", Score: "25"}, CreatedAt: t0}
			first, inserted, err := s.InsertReaction(ctx, r)
			So(err, ShouldBeNil)
			So(inserted, ShouldBeTrue)

			r.ID = "r2-" + suffix
			second, inserted, err := s.InsertReaction(ctx, r)
			Convey("Then the first record wins", func() {
				So(err, ShouldBeNil)
				So(inserted, ShouldBeFalse)
				So(second.ID, ShouldEqual, first.ID)
				So(second.Metadata.Score, ShouldEqual, "25")
			})
		})

		Convey("When many goroutines insert the same grant", func() {
			var wins atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, inserted, err := s.InsertGrant(ctx, model.AchievementGrant{
						ID: fmt.Sprintf("g-%s-%d", suffix, i), FanID: fID, RuleID: "champion_support",
						RuleSetVersion: "v1", GrantedAt: t0,
					})
					if err == nil && inserted {
						wins.Add(1)
					}
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one grant exists", func() {
				So(wins.Load(), ShouldEqual, 1)
				grants, err := s.ListGrants(ctx, fID)
				So(err, ShouldBeNil)
				So(len(grants), ShouldEqual, 1)
			})
		})

		Convey("When a dispatch task is created and swapped", func() {
			task := model.DispatchTask{
				ID: model.DispatchKey("grant-"+suffix, "base"), GrantID: "grant-" + suffix,
				FanID: fID, FanAddress: fID, RuleID: "viral_reaction", ChainID: "base",
				Amount: decimal.NewFromInt(1), NativeFee: decimal.Zero,
				Status: model.DispatchPending, NextAttemptAt: t0, CreatedAt: t0, UpdatedAt: t0,
			}
			stored, inserted, err := s.InsertTask(ctx, task)
			So(err, ShouldBeNil)
			So(inserted, ShouldBeTrue)
			So(stored.Version, ShouldEqual, 1)

			_, inserted, err = s.InsertTask(ctx, task)
			So(err, ShouldBeNil)
			So(inserted, ShouldBeFalse)

			due, err := s.ListResumableTasks(ctx, t0.Add(time.Second), 10000)
			So(err, ShouldBeNil)
			found := false
			for _, d := range due {
				found = found || d.ID == task.ID
			}
			So(found, ShouldBeTrue)

			stored.Status = model.DispatchConfirmed
			swapped, err := s.CompareAndSwapTask(ctx, stored, 1)
			So(err, ShouldBeNil)
			So(swapped.Version, ShouldEqual, 2)

			_, err = s.CompareAndSwapTask(ctx, stored, 1)
			So(errors.Is(err, repository.ErrConflict), ShouldBeTrue)

			Convey("Then terminal tasks are no longer resumable", func() {
				due, _ := s.ListResumableTasks(ctx, t0.Add(time.Hour), 10000)
				for _, d := range due {
					So(d.ID, ShouldNotEqual, task.ID)
				}
				byGrant, _ := s.ListTasksByGrant(ctx, "grant-"+suffix)
				So(len(byGrant), ShouldEqual, 1)
				So(byGrant[0].Status, ShouldEqual, model.DispatchConfirmed)
			})
		})
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, "memory store", func() repository.Store {
		return repository.NewMemoryStore(context.Background())
	})
}

func TestMemoryStoreConcurrentCommits(t *testing.T) {
	Convey("Given concurrent committers racing on one athlete", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore(ctx)
		defer s.Close()
		_, _ = s.CreateAthlete(ctx, athlete("hot", 0))

		var ok, conflicts atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a, _ := s.GetAthlete(ctx, "hot")
				c := commitFor(a, model.NewFan(fmt.Sprintf("f%d", i), t0), true, 1)
				if err := s.CommitSupport(ctx, c); err != nil {
					if errors.Is(err, repository.ErrConflict) {
						conflicts.Add(1)
					}
					return
				}
				ok.Add(1)
			}(i)
		}
		wg.Wait()

		Convey("Then earnings reflect only successful commits", func() {
			a, _ := s.GetAthlete(ctx, "hot")
			So(ok.Load()+conflicts.Load(), ShouldEqual, 20)
			So(a.CumulativeEarnings.IntPart(), ShouldEqual, ok.Load())
			So(a.Version, ShouldEqual, ok.Load()+1)
		})
	})
}

func TestGormStore(t *testing.T) {
	dsn := os.Getenv("FANPULSE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FANPULSE_TEST_DATABASE_URL not set")
	}
	runStoreContract(t, "postgres store", func() repository.Store {
		s, err := repository.NewGormStore(context.Background(), dsn)
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		return s
	})
}
