package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)

			Convey("Then Get returns a usable logger", func() {
				So(Get(), ShouldNotBeNil)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When initialized with an unknown format", func() {
			err := Init(WithFormat("xml"))

			Convey("Then it should fail", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "unknown log format")
			})
		})
	})
}

func TestLoggerOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(Init(WithFormat("json"), WithOutput(&buf)), ShouldBeNil)
		defer func() { _ = Init() }()
		ctx := context.Background()

		Convey("When logging with typed fields", func() {
			Get().Named("ledger").Info(ctx, "support recorded",
				String("fan", "0xabc"),
				Int64("count", 3),
				Bool("first", true),
				Duration("took", 1500*time.Millisecond),
				Error(errors.New("boom")),
			)

			Convey("Then every field is present in the record", func() {
				var rec map[string]any
				So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)
				So(rec["msg"], ShouldEqual, "support recorded")
				So(rec["fan"], ShouldEqual, "0xabc")
				So(rec["count"], ShouldEqual, float64(3))
				So(rec["first"], ShouldEqual, true)
				So(rec["took"], ShouldEqual, "1.5s")
				So(rec["logger"], ShouldEqual, "ledger")
				So(rec["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When nesting names and fields", func() {
			Named("worker").Named("3").With(String("chain", "base")).Warn(ctx, "slow")

			Convey("Then names are dotted and fields carried", func() {
				out := buf.String()
				So(out, ShouldContainSubstring, `"logger":"worker.3"`)
				So(out, ShouldContainSubstring, `"chain":"base"`)
			})
		})

		Convey("When the level filters a message", func() {
			So(SetLevelString("warn"), ShouldBeNil)
			defer func() { _ = SetLevelString("info") }()
			Get().Info(ctx, "hidden")

			Convey("Then nothing is written", func() {
				So(buf.Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		for _, lvl := range []string{"debug", "info", "", "WARN", "warning", "error"} {
			So(SetLevelString(lvl), ShouldBeNil)
		}
		err := SetLevelString("verbose")
		So(err, ShouldNotBeNil)
		So(strings.Contains(err.Error(), "verbose"), ShouldBeTrue)
		So(SetLevelString("info"), ShouldBeNil)
	})
}

func TestNop(t *testing.T) {
	Convey("Given a nop logger", t, func() {
		l := Nop()
		Convey("Then logging never panics", func() {
			So(func() {
				l.Named("x").With(Int("n", 1)).Error(context.Background(), "ignored")
				l.Info(nil, "nil context") //nolint:staticcheck // nil context is tolerated
			}, ShouldNotPanic)
		})
	})
}
