package reaction_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/okian/fanpulse/internal/adapters/repository"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/policy"
	"github.com/okian/fanpulse/internal/domain/reaction"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, key string, _ model.ReactionMetadata) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.keys = append(p.keys, key)
	return "https://cdn.example/" + key, nil
}

func supportTx(id, amount, tier string) model.SupportTransaction {
	return model.SupportTransaction{
		ID: id, FanID: "0xfan", AthleteID: "a1",
		GrossAmount:  decimal.RequireFromString(amount),
		ReactionTier: tier, PolicyVersion: "v1",
		CreatedAt: time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC),
	}
}

func TestMintReaction(t *testing.T) {
	ctx := context.Background()

	Convey("Given a minter with a registered athlete", t, func() {
		store := repository.NewMemoryStore(ctx)
		Reset(func() { _ = store.Close() })
		_, _ = store.CreateAthlete(ctx, model.Athlete{ID: "a1", Name: "Ada Runner", IsActive: true})
		pub := &fakePublisher{}
		m := reaction.New(store, store, policy.MustNew(), reaction.WithPublisher(pub), reaction.WithChain("polygon"))

		Convey("When a king support goes viral", func() {
			rec, err := m.MintReaction(ctx, supportTx("tx-1", "50", "king"), "What a finish!", 0.9)

			Convey("Then the reaction is legendary with full metadata", func() {
				So(err, ShouldBeNil)
				So(rec.Rarity, ShouldEqual, model.RarityLegendary)
				So(rec.Metadata.Score, ShouldEqual, "45")
				So(rec.Metadata.AthleteName, ShouldEqual, "Ada Runner")
				So(rec.Metadata.TierLabel, ShouldEqual, "King")
				So(rec.Metadata.Excerpt, ShouldEqual, "What a finish!")
				So(rec.Metadata.Timestamp, ShouldEqual, time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC))
				So(rec.Metadata.Slug, ShouldStartWith, "ada-runner-king-")
				So(rec.Metadata.URI, ShouldEqual, "https://cdn.example/reactions/tx-1.json")
				So(rec.MintedChain, ShouldEqual, "polygon")
				So(rec.FanID, ShouldEqual, "0xfan")
			})

			Convey("And minting again returns the same record as a duplicate", func() {
				again, err := m.MintReaction(ctx, supportTx("tx-1", "50", "king"), "different", 0.1)
				So(errors.Is(err, reaction.ErrDuplicateMint), ShouldBeTrue)
				So(again.ID, ShouldEqual, rec.ID)
				So(again.Rarity, ShouldEqual, model.RarityLegendary)
				So(len(pub.keys), ShouldEqual, 1)
			})
		})

		Convey("When a small clap barely trends", func() {
			rec, err := m.MintReaction(ctx, supportTx("tx-2", "2", "clap"), "", 0.3)
			So(err, ShouldBeNil)
			So(rec.Rarity, ShouldEqual, model.RarityCommon)
			So(rec.Metadata.Score, ShouldEqual, "0.6")
		})

		Convey("When many goroutines mint the same transaction", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			ids := map[string]int{}
			fresh := 0
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec, err := m.MintReaction(ctx, supportTx("tx-race", "20", "legend"), "", 0.5)
					mu.Lock()
					defer mu.Unlock()
					ids[rec.ID]++
					if err == nil {
						fresh++
					}
				}()
			}
			wg.Wait()

			Convey("Then one record exists and one call created it", func() {
				So(len(ids), ShouldEqual, 1)
				So(fresh, ShouldEqual, 1)
			})
		})

		Convey("When the publisher fails", func() {
			pub.err = errors.New("bucket unavailable")
			rec, err := m.MintReaction(ctx, supportTx("tx-3", "15", "strong"), "ok", 1)

			Convey("Then the record is minted without a uri", func() {
				So(err, ShouldBeNil)
				So(rec.Metadata.URI, ShouldBeEmpty)
				So(rec.Rarity, ShouldEqual, model.RarityRare)
			})
		})

		Convey("When the transaction is malformed", func() {
			_, err := m.MintReaction(ctx, model.SupportTransaction{}, "", 1)
			So(errors.Is(err, reaction.ErrInvalidTransaction), ShouldBeTrue)
		})

		Convey("When looking up a transaction that was never minted", func() {
			_, err := m.Get(ctx, "tx-none")
			So(errors.Is(err, reaction.ErrNotMinted), ShouldBeTrue)
		})
	})
}

func TestExcerpt(t *testing.T) {
	Convey("Given commentary text", t, func() {
		Convey("Then short text is kept with whitespace collapsed", func() {
			So(reaction.Excerpt("  great   run \n today ", 140), ShouldEqual, "great run today")
		})

		Convey("Then long text is cut to the rune limit", func() {
			long := strings.Repeat("ñ", 300)
			out := reaction.Excerpt(long, 140)
			So(utf8.RuneCountInString(out), ShouldEqual, 140)
			So(out, ShouldEndWith, "…")
		})
	})
}
