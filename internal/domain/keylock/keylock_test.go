package keylock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/fanpulse/internal/domain/keylock"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLock(t *testing.T) {
	Convey("Given a lock manager", t, func() {
		m := keylock.New()
		ctx := context.Background()

		Convey("When many goroutines increment under the same key", func() {
			counter := 0
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := m.Lock(ctx, "athlete:a1")
					if err != nil {
						return
					}
					v := counter
					time.Sleep(time.Microsecond)
					counter = v + 1
					unlock()
				}()
			}
			wg.Wait()

			Convey("Then no update is lost and the table is empty", func() {
				So(counter, ShouldEqual, 100)
				So(m.Len(), ShouldEqual, 0)
			})
		})

		Convey("When overlapping key sets are taken in opposite orders", func() {
			var wg sync.WaitGroup
			done := make(chan struct{})
			for i := 0; i < 50; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					unlock, err := m.Lock(ctx, "fan:f1", "athlete:a1")
					if err == nil {
						unlock()
					}
				}()
				go func() {
					defer wg.Done()
					unlock, err := m.Lock(ctx, "athlete:a1", "fan:f1")
					if err == nil {
						unlock()
					}
				}()
			}
			go func() { wg.Wait(); close(done) }()

			Convey("Then they never deadlock", func() {
				select {
				case <-done:
					So(true, ShouldBeTrue)
				case <-time.After(5 * time.Second):
					So("deadlock", ShouldBeEmpty)
				}
			})
		})

		Convey("When the context expires while waiting", func() {
			unlock, err := m.Lock(ctx, "fan:f1")
			So(err, ShouldBeNil)

			waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err = m.Lock(waitCtx, "athlete:a1", "fan:f1")

			Convey("Then the waiter gives up and releases what it took", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				again, err := m.Lock(ctx, "athlete:a1")
				So(err, ShouldBeNil)
				again()
				unlock()
				So(m.Len(), ShouldEqual, 0)
			})
		})

		Convey("When a key is repeated or unlock is called twice", func() {
			unlock, err := m.Lock(ctx, "k", "k")
			So(err, ShouldBeNil)
			unlock()
			So(func() { unlock() }, ShouldNotPanic)
			So(m.Len(), ShouldEqual, 0)
		})
	})
}
