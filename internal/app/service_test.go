package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/fanpulse/internal/adapters/chain"
	service "github.com/okian/fanpulse/internal/app"
	"github.com/okian/fanpulse/internal/domain/achievement"
	"github.com/okian/fanpulse/internal/domain/ledger"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/policy"
	"github.com/okian/fanpulse/internal/domain/reaction"
	"github.com/okian/fanpulse/internal/domain/sentiment"
	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/okian/fanpulse/internal/domain/types"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fastDispatch keeps settlement retries in the millisecond range.
func fastDispatch() service.Option {
	return service.WithDispatchOptions(
		settlement.WithBackoffBase(time.Millisecond),
		settlement.WithConfirmPollInterval(time.Millisecond),
		settlement.WithAttemptTimeout(time.Second),
	)
}

func startService(opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithWorkerCount(2),
		service.WithQueueSize(100),
		service.WithAnalyzer(sentiment.NewLexiconAnalyzer(sentiment.WithLatencyRange(0, 0))),
		service.WithSweepInterval(50 * time.Millisecond),
		fastDispatch(),
	}
	svc := service.New(append(base, opts...)...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func register(svc *service.Service, id string) {
	_, err := svc.RegisterAthlete(context.Background(), types.AthleteRequest{ID: id, Name: "Athlete " + id, Sport: "football"})
	So(err, ShouldBeNil)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestLifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New(service.WithWorkerCount(1))

		Convey("Then operations report that it is not started", func() {
			_, err := svc.RecordSupport(context.Background(), types.SupportRequest{FanID: "f", AthleteID: "a", Amount: d("10"), Tier: "gem"})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats(context.Background())["started"], ShouldEqual, false)
		})

		Convey("When it is started and stopped", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)
			stats := svc.GetStats(context.Background())
			So(stats["started"], ShouldEqual, true)
			So(stats["policy_version"], ShouldEqual, policy.DefaultVersion)
			svc.Stop()
			svc.Stop()

			Convey("Then it refuses work again", func() {
				_, err := svc.GetAthlete(context.Background(), "a")
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})
	})
}

func TestRecordSupport(t *testing.T) {
	Convey("Given a running service with one athlete", t, func() {
		svc := startService()
		defer svc.Stop()
		ctx := context.Background()
		register(svc, "mia")

		Convey("When a fan supports with a gem of 10", func() {
			r, err := svc.RecordSupport(ctx, types.SupportRequest{RequestID: "req-1", FanID: "0xfan", AthleteID: "mia", Amount: d("10"), Tier: "gem"})
			So(err, ShouldBeNil)

			Convey("Then the split and tokens follow the policy", func() {
				So(r.AthleteShare.String(), ShouldEqual, "8")
				So(r.PlatformFee.String(), ShouldEqual, "2")
				So(r.TokensAwarded.String(), ShouldEqual, "10000")
				So(r.AthleteShare.Add(r.PlatformFee).Equal(r.Amount), ShouldBeTrue)
			})

			Convey("And repeating the request id replays the receipt", func() {
				again, err := svc.RecordSupport(ctx, types.SupportRequest{RequestID: "req-1", FanID: "0xfan", AthleteID: "mia", Amount: d("10"), Tier: "gem"})
				So(err, ShouldBeNil)
				So(again.Duplicate, ShouldBeTrue)
				So(again.TransactionID, ShouldEqual, r.TransactionID)

				fan, err := svc.GetFan(ctx, "0xfan")
				So(err, ShouldBeNil)
				So(fan.SupportCount, ShouldEqual, 1)
				So(fan.RewardTokenBalance.String(), ShouldEqual, "10000")
			})

			Convey("And another fan reusing the request id is charged on their own", func() {
				other, err := svc.RecordSupport(ctx, types.SupportRequest{RequestID: "req-1", FanID: "0xother", AthleteID: "mia", Amount: d("50"), Tier: "king"})
				So(err, ShouldBeNil)
				So(other.Duplicate, ShouldBeFalse)
				So(other.FanID, ShouldEqual, "0xother")
				So(other.TransactionID, ShouldNotEqual, r.TransactionID)

				fan, err := svc.GetFan(ctx, "0xother")
				So(err, ShouldBeNil)
				So(fan.SupportCount, ShouldEqual, 1)
			})

			Convey("And reusing the request id for a different support is rejected", func() {
				_, err := svc.RecordSupport(ctx, types.SupportRequest{RequestID: "req-1", FanID: "0xfan", AthleteID: "mia", Amount: d("50"), Tier: "king"})
				So(errors.Is(err, types.ErrRequestMismatch), ShouldBeTrue)

				fan, err := svc.GetFan(ctx, "0xfan")
				So(err, ShouldBeNil)
				So(fan.SupportCount, ShouldEqual, 1)
			})

			Convey("And the reaction is minted after the commit", func() {
				So(eventually(func() bool {
					_, err := svc.GetReaction(ctx, r.TransactionID)
					return err == nil
				}), ShouldBeTrue)
				rec, _ := svc.GetReaction(ctx, r.TransactionID)
				So(rec.FanID, ShouldEqual, "0xfan")
				So(rec.MintedChain, ShouldEqual, "base")
			})

			Convey("And the first support earns champion_support", func() {
				So(eventually(func() bool {
					p, err := svc.GetAchievementProgress(ctx, "0xfan")
					return err == nil && len(p.Granted) == 1
				}), ShouldBeTrue)
				p, _ := svc.GetAchievementProgress(ctx, "0xfan")
				So(p.Granted, ShouldResemble, []string{achievement.RuleChampionSupport})
			})
		})

		Convey("When the support is invalid", func() {
			_, err := svc.RecordSupport(ctx, types.SupportRequest{RequestID: "bad", FanID: "0xfan", AthleteID: "mia", Amount: d("9.99"), Tier: "gem"})
			So(errors.Is(err, ledger.ErrInvalidAmount), ShouldBeTrue)

			_, err = svc.RecordSupport(ctx, types.SupportRequest{FanID: "0xfan", AthleteID: "mia", Amount: d("10"), Tier: "diamond"})
			So(errors.Is(err, ledger.ErrUnknownTier), ShouldBeTrue)

			_, err = svc.SetAthleteActive(ctx, "mia", false)
			So(err, ShouldBeNil)
			_, err = svc.RecordSupport(ctx, types.SupportRequest{FanID: "0xfan", AthleteID: "mia", Amount: d("10"), Tier: "gem"})
			So(errors.Is(err, ledger.ErrInactiveAthlete), ShouldBeTrue)

			Convey("Then nothing is persisted and the request id can be retried", func() {
				_, err := svc.GetFan(ctx, "0xfan")
				So(errors.Is(err, ledger.ErrUnknownFan), ShouldBeTrue)

				_, err = svc.SetAthleteActive(ctx, "mia", true)
				So(err, ShouldBeNil)
				r, err := svc.RecordSupport(ctx, types.SupportRequest{RequestID: "bad", FanID: "0xfan", AthleteID: "mia", Amount: d("10"), Tier: "gem"})
				So(err, ShouldBeNil)
				So(r.Duplicate, ShouldBeFalse)
			})
		})

		Convey("When the athlete is unknown", func() {
			_, err := svc.RecordSupport(ctx, types.SupportRequest{FanID: "0xfan", AthleteID: "ghost", Amount: d("10"), Tier: "gem"})
			So(errors.Is(err, ledger.ErrUnknownAthlete), ShouldBeTrue)
			_, err = svc.GetReaction(ctx, "nope")
			So(errors.Is(err, reaction.ErrNotMinted), ShouldBeTrue)
		})
	})
}

func TestKingSupport(t *testing.T) {
	Convey("Given a running service", t, func() {
		svc := startService()
		defer svc.Stop()
		ctx := context.Background()
		register(svc, "leo")

		Convey("When a fan supports with a king of 50", func() {
			r, err := svc.RecordSupport(ctx, types.SupportRequest{FanID: "0xking", AthleteID: "leo", Amount: d("50"), Tier: "king", Reaction: "what a goal"})
			So(err, ShouldBeNil)

			Convey("Then big_supporter is granted once and settles on every chain", func() {
				So(eventually(func() bool {
					p, _ := svc.GetAchievementProgress(ctx, "0xking")
					return len(p.Granted) >= 2
				}), ShouldBeTrue)

				res, err := svc.TriggerAndSettle(ctx, "0xking", types.FanEvent{Kind: achievement.EventSupportRecorded, TransactionID: r.TransactionID, Amount: d("50")})
				So(err, ShouldBeNil)
				byRule := map[string]types.GrantSettlement{}
				for _, g := range res.Grants {
					byRule[g.RuleID] = g
				}
				big := byRule[achievement.RuleBigSupporter]
				So(big.Replayed, ShouldBeTrue)
				So(big.Complete, ShouldBeTrue)
				So(len(big.Chains), ShouldEqual, 3)
				for _, c := range big.Chains {
					So(c.Status, ShouldEqual, model.DispatchConfirmed)
					So(c.TxRef, ShouldNotBeEmpty)
				}
			})
		})
	})
}

func TestTriggerAndSettle(t *testing.T) {
	Convey("Given a service whose polygon bridge reverts", t, func() {
		polygon := chain.NewSimulatedBridge("polygon", chain.WithReverts())
		base := chain.NewSimulatedBridge("base")
		svc := startService(service.WithBridges(base, polygon, chain.NewSimulatedBridge("arbitrum")))
		defer svc.Stop()
		ctx := context.Background()

		Convey("When first_support fires twice", func() {
			ev := types.FanEvent{Kind: achievement.EventSupportRecorded}
			first, err := svc.TriggerAndSettle(ctx, "0xfan", ev)
			So(err, ShouldBeNil)
			second, err := svc.TriggerAndSettle(ctx, "0xfan", ev)
			So(err, ShouldBeNil)

			Convey("Then champion_support is granted exactly once", func() {
				So(len(first.Grants), ShouldEqual, 1)
				So(first.Grants[0].RuleID, ShouldEqual, achievement.RuleChampionSupport)
				So(first.Grants[0].Replayed, ShouldBeFalse)
				So(first.Grants[0].Chains[0].Status, ShouldEqual, model.DispatchConfirmed)

				So(len(second.Grants), ShouldEqual, 1)
				So(second.Grants[0].Replayed, ShouldBeTrue)
				So(second.Grants[0].GrantID, ShouldEqual, first.Grants[0].GrantID)
				So(base.Submissions(), ShouldEqual, 1)

				p, err := svc.GetAchievementProgress(ctx, "0xfan")
				So(err, ShouldBeNil)
				So(p.Granted, ShouldResemble, []string{achievement.RuleChampionSupport})
			})
		})

		Convey("When a viral reaction pays out on base and polygon", func() {
			res, err := svc.TriggerAndSettle(ctx, "0xviral", types.FanEvent{Kind: achievement.EventShare, ViralityScore: 0.9})
			So(err, ShouldBeNil)

			Convey("Then polygon fails permanently without affecting base", func() {
				So(len(res.Grants), ShouldEqual, 1)
				g := res.Grants[0]
				So(g.RuleID, ShouldEqual, achievement.RuleViralReaction)
				status := map[string]model.DispatchStatus{}
				for _, c := range g.Chains {
					status[c.ChainID] = c.Status
				}
				So(status["base"], ShouldEqual, model.DispatchConfirmed)
				So(status["polygon"], ShouldEqual, model.DispatchFailedPermanent)
				So(g.FailedChains, ShouldResemble, []string{"polygon"})
			})

			Convey("And a finished task cannot be cancelled", func() {
				_, err := svc.CancelDispatch(ctx, res.Grants[0].Chains[0].TaskID)
				So(errors.Is(err, settlement.ErrNotCancellable), ShouldBeTrue)
				_, err = svc.CancelDispatch(ctx, "nope:base")
				So(errors.Is(err, settlement.ErrUnknownTask), ShouldBeTrue)
			})
		})

		Convey("When the fan id is blank", func() {
			_, err := svc.TriggerAndSettle(ctx, " ", types.FanEvent{Kind: achievement.EventShare})
			So(errors.Is(err, achievement.ErrInvalidEvent), ShouldBeTrue)
			_, err = svc.GetAchievementProgress(ctx, "")
			So(errors.Is(err, achievement.ErrInvalidEvent), ShouldBeTrue)
		})
	})
}

func TestConcurrentSupports(t *testing.T) {
	Convey("Given a policy with a one-unit tier", t, func() {
		pol := policy.MustNew(
			policy.WithTiers([]policy.Tier{{Name: "tip", Label: "Tip", Floor: d("1")}}),
			policy.WithSharePrecision(2),
		)
		svc := startService(service.WithPolicy(pol))
		defer svc.Stop()
		ctx := context.Background()
		register(svc, "ana")

		Convey("When many fans support at once", func() {
			const n = 200
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.RecordSupport(ctx, types.SupportRequest{FanID: fmt.Sprintf("0xf%d", i%23), AthleteID: "ana", Amount: d("1"), Tier: "tip"})
					if err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)

			Convey("Then no update is lost", func() {
				So(len(errs), ShouldEqual, 0)
				a, err := svc.GetAthlete(ctx, "ana")
				So(err, ShouldBeNil)
				So(a.CumulativeEarnings.Equal(d("0.8").Mul(decimal.NewFromInt(n))), ShouldBeTrue)
				So(a.TransactionCount, ShouldEqual, n)
				So(a.FanCount, ShouldEqual, 23)
			})
		})
	})
}

func TestQueueOverflow(t *testing.T) {
	Convey("Given a service with a one-slot queue and one worker", t, func() {
		svc := startService(service.WithQueueSize(1), service.WithWorkerCount(1))
		defer svc.Stop()
		ctx := context.Background()
		register(svc, "kai")

		Convey("When supports arrive faster than the worker drains them", func() {
			ids := make([]string, 0, 20)
			for i := range 20 {
				r, err := svc.RecordSupport(ctx, types.SupportRequest{FanID: fmt.Sprintf("0xq%d", i), AthleteID: "kai", Amount: d("2"), Tier: "clap"})
				So(err, ShouldBeNil)
				ids = append(ids, r.TransactionID)
			}

			Convey("Then every support still gets its reaction", func() {
				for _, id := range ids {
					So(eventually(func() bool {
						_, err := svc.GetReaction(ctx, id)
						return err == nil
					}), ShouldBeTrue)
				}
			})
		})
	})
}
