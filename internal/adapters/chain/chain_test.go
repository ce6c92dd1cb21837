package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/fanpulse/internal/adapters/chain"
	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

// relayer is a minimal in-memory relayer API.
type relayer struct {
	mu       sync.Mutex
	statuses map[string]string
	keys     map[string]string
	failures int
	calls    int
}

func newRelayer() *relayer {
	return &relayer{statuses: map[string]string{}, keys: map[string]string{}}
}

func (r *relayer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case req.Method == http.MethodPost && req.URL.Path == "/v1/fees":
		body, _ := io.ReadAll(req.Body)
		fee := decimal.New(int64(settlement.Words(len(body))), -4)
		_ = json.NewEncoder(w).Encode(map[string]any{"fee": fee})
	case req.Method == http.MethodPost && req.URL.Path == "/v1/settlements":
		key := req.Header.Get("Idempotency-Key")
		if key == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`missing key`))
			return
		}
		ref, ok := r.keys[key]
		if !ok {
			ref = "tx-" + key
			r.keys[key] = ref
			r.statuses[ref] = "pending"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"tx_ref": ref})
	case req.Method == http.MethodGet && strings.HasPrefix(req.URL.Path, "/v1/settlements/"):
		ref := strings.TrimPrefix(req.URL.Path, "/v1/settlements/")
		status, ok := r.statuses[ref]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (r *relayer) set(ref, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[ref] = status
}

func TestHTTPBridge(t *testing.T) {
	ctx := context.Background()

	Convey("Given a bridge to a relayer", t, func() {
		rel := newRelayer()
		srv := httptest.NewServer(rel)
		Reset(srv.Close)
		b := chain.NewHTTPBridge("base", srv.URL+"/", chain.WithRateLimit(1000, 100), chain.WithBreakerTimeout(time.Minute))
		So(b.ChainID(), ShouldEqual, "base")

		Convey("When a fee is quoted", func() {
			fee, err := b.EstimateFee(ctx, make([]byte, 40))
			So(err, ShouldBeNil)
			So(fee.String(), ShouldEqual, "0.0002")
		})

		Convey("When the same key is submitted twice", func() {
			ref1, err := b.Submit(ctx, "g:base", []byte(`{}`))
			So(err, ShouldBeNil)
			ref2, err := b.Submit(ctx, "g:base", []byte(`{}`))
			So(err, ShouldBeNil)

			Convey("Then the relayer returns the same reference", func() {
				So(ref2, ShouldEqual, ref1)
			})

			Convey("And confirmation follows the relayer status", func() {
				ok, err := b.Confirm(ctx, ref1)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)

				rel.set(ref1, "confirmed")
				ok, err = b.Confirm(ctx, ref1)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})

			Convey("And a revert is permanent", func() {
				rel.set(ref1, "reverted")
				_, err := b.Confirm(ctx, ref1)
				So(errors.Is(err, settlement.ErrPermanent), ShouldBeTrue)
				So(errors.Is(err, chain.ErrReverted), ShouldBeTrue)
			})

			Convey("And a chain failure is retryable", func() {
				rel.set(ref1, "failed")
				_, err := b.Confirm(ctx, ref1)
				So(errors.Is(err, chain.ErrRelayer), ShouldBeTrue)
				So(errors.Is(err, settlement.ErrPermanent), ShouldBeFalse)
			})
		})

		Convey("When the relayer rejects the request", func() {
			_, err := b.Submit(ctx, "", []byte(`{}`))
			So(errors.Is(err, settlement.ErrPermanent), ShouldBeTrue)
		})

		Convey("When the relayer keeps failing", func() {
			rel.failures = 100
			for i := 0; i < 5; i++ {
				_, err := b.EstimateFee(ctx, []byte(`{}`))
				So(errors.Is(err, chain.ErrRelayer), ShouldBeTrue)
				So(errors.Is(err, settlement.ErrPermanent), ShouldBeFalse)
			}
			calls := rel.calls

			Convey("Then the breaker opens and stops calling it", func() {
				_, err := b.EstimateFee(ctx, []byte(`{}`))
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "circuit breaker is open")
				So(rel.calls, ShouldEqual, calls)
			})
		})
	})
}

func TestSimulatedBridge(t *testing.T) {
	ctx := context.Background()

	Convey("Given a simulated chain", t, func() {
		Convey("When a key is submitted twice", func() {
			s := chain.NewSimulatedBridge("polygon")
			ref1, _ := s.Submit(ctx, "g:polygon", nil)
			ref2, _ := s.Submit(ctx, "g:polygon", nil)
			So(ref1, ShouldEqual, ref2)
			So(s.Submissions(), ShouldEqual, 1)

			ok, err := s.Confirm(ctx, ref1)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("When failures are injected", func() {
			s := chain.NewSimulatedBridge("base", chain.WithTransientFailures(1), chain.WithConfirmAfter(2))
			ref, _ := s.Submit(ctx, "k", nil)
			_, err := s.Confirm(ctx, ref)
			So(errors.Is(err, chain.ErrRelayer), ShouldBeTrue)
			ok, err := s.Confirm(ctx, ref)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			ok, _ = s.Confirm(ctx, ref)
			So(ok, ShouldBeTrue)
		})

		Convey("When the chain reverts", func() {
			s := chain.NewSimulatedBridge("arbitrum", chain.WithReverts())
			ref, _ := s.Submit(ctx, "k", nil)
			_, err := s.Confirm(ctx, ref)
			So(errors.Is(err, settlement.ErrPermanent), ShouldBeTrue)
		})

		Convey("Fees follow the payload size", func() {
			s := chain.NewSimulatedBridge("base", chain.WithBaseFee(decimal.RequireFromString("0.5")))
			fee, _ := s.EstimateFee(ctx, make([]byte, 64))
			So(fee.String(), ShouldEqual, "1")
		})
	})
}
