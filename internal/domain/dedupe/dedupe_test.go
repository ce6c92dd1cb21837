package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/okian/fanpulse/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

type receipt struct {
	TxID string
}

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper[receipt]()
		So(d.Size(), ShouldEqual, 0)

		Convey("When a key is reserved for the first time", func() {
			_, state := d.Reserve(ctx, "req-1")

			Convey("Then it is fresh and counted", func() {
				So(state, ShouldEqual, dedupe.Fresh)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And a second reserve before completion is in flight", func() {
				_, again := d.Reserve(ctx, "req-1")
				So(again, ShouldEqual, dedupe.InFlight)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And after completion the stored value is replayed", func() {
				d.Complete(ctx, "req-1", receipt{TxID: "tx-1"})
				v, again := d.Reserve(ctx, "req-1")
				So(again, ShouldEqual, dedupe.Done)
				So(v.TxID, ShouldEqual, "tx-1")
			})

			Convey("And after release the key can be retried", func() {
				d.Release(ctx, "req-1")
				So(d.Size(), ShouldEqual, 0)
				_, again := d.Reserve(ctx, "req-1")
				So(again, ShouldEqual, dedupe.Fresh)
			})
		})

		Convey("When releasing a completed key", func() {
			d.Reserve(ctx, "req-2")
			d.Complete(ctx, "req-2", receipt{TxID: "tx-2"})
			d.Release(ctx, "req-2")

			Convey("Then the result is kept", func() {
				v, state := d.Reserve(ctx, "req-2")
				So(state, ShouldEqual, dedupe.Done)
				So(v.TxID, ShouldEqual, "tx-2")
			})
		})

		Convey("When releasing an unknown key", func() {
			d.Release(ctx, "nope")
			So(d.Size(), ShouldEqual, 0)
		})
	})
}

func TestDedupeEviction(t *testing.T) {
	ctx := context.Background()

	Convey("Given a bounded deduper of three", t, func() {
		d := dedupe.NewInMemoryDeduper[int](dedupe.WithMaxSize(3))
		for i := 1; i <= 3; i++ {
			key := fmt.Sprintf("k%d", i)
			d.Reserve(ctx, key)
			d.Complete(ctx, key, i)
		}

		Convey("When a fourth key arrives", func() {
			_, state := d.Reserve(ctx, "k4")

			Convey("Then the oldest entry is evicted", func() {
				So(state, ShouldEqual, dedupe.Fresh)
				So(d.Size(), ShouldEqual, 3)

				v, s2 := d.Reserve(ctx, "k2")
				So(s2, ShouldEqual, dedupe.Done)
				So(v, ShouldEqual, 2)
				v, s3 := d.Reserve(ctx, "k3")
				So(s3, ShouldEqual, dedupe.Done)
				So(v, ShouldEqual, 3)

				_, s1 := d.Reserve(ctx, "k1")
				So(s1, ShouldEqual, dedupe.Fresh)
			})
		})

		Convey("When the oldest key is still in flight", func() {
			d.Reserve(ctx, "pending")
			for i := 0; i < 3; i++ {
				d.Reserve(ctx, fmt.Sprintf("filler-%d", i))
			}

			Convey("Then its reservation survives eviction", func() {
				_, state := d.Reserve(ctx, "pending")
				So(state, ShouldEqual, dedupe.InFlight)
				So(d.Size(), ShouldEqual, 4)
			})

			Convey("Then once it completes it is evicted first", func() {
				d.Complete(ctx, "pending", 42)
				v, state := d.Reserve(ctx, "pending")
				So(state, ShouldEqual, dedupe.Done)
				So(v, ShouldEqual, 42)

				d.Reserve(ctx, "next")
				_, state = d.Reserve(ctx, "pending")
				So(state, ShouldEqual, dedupe.Fresh)
			})
		})
	})

	Convey("Given a bounded deduper of two with every slot in flight", t, func() {
		d := dedupe.NewInMemoryDeduper[int](dedupe.WithMaxSize(2))
		d.Reserve(ctx, "k")
		d.Reserve(ctx, "x")
		d.Reserve(ctx, "y")

		Convey("Then a retry of the first key is still in flight", func() {
			_, state := d.Reserve(ctx, "k")
			So(state, ShouldEqual, dedupe.InFlight)
			So(d.Size(), ShouldEqual, 3)
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper[int](dedupe.WithMaxSize(0))
		for i := 0; i < 1000; i++ {
			_, state := d.Reserve(ctx, fmt.Sprintf("k%d", i))
			So(state, ShouldEqual, dedupe.Fresh)
		}
		So(d.Size(), ShouldEqual, 1000)
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given many goroutines racing for the same key", t, func() {
		d := dedupe.NewInMemoryDeduper[string]()
		var fresh atomic.Int64
		var wg sync.WaitGroup

		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, state := d.Reserve(context.Background(), "shared"); state == dedupe.Fresh {
					fresh.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one wins the reservation", func() {
			So(fresh.Load(), ShouldEqual, 1)
			So(d.Size(), ShouldEqual, 1)
		})
	})
}

func TestStateString(t *testing.T) {
	Convey("Given states", t, func() {
		So(dedupe.Fresh.String(), ShouldEqual, "fresh")
		So(dedupe.InFlight.String(), ShouldEqual, "in_flight")
		So(dedupe.Done.String(), ShouldEqual, "done")
	})
}
