package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/fanpulse/internal/adapters/http/api"
	"github.com/okian/fanpulse/internal/adapters/http/swagger"
	app "github.com/okian/fanpulse/internal/app"
	"github.com/okian/fanpulse/internal/config"
	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/okian/fanpulse/pkg/logger"
	"github.com/okian/fanpulse/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func setenv(t *testing.T, kv map[string]string) {
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestConfigWiring(t *testing.T) {
	convey.Convey("Given environment configuration", t, func() {
		setenv(t, map[string]string{
			"FANPULSE_ADDR":                      ":8080",
			"FANPULSE_QUEUE_SIZE":                "1000",
			"FANPULSE_WORKER_COUNT":              "4",
			"FANPULSE_CHAINS__POLYGON__BASE_FEE": "0.001",
		})

		convey.Convey("When it is loaded", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then overrides apply", func() {
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.BaseFees()["polygon"].String(), convey.ShouldEqual, "0.001")
			})

			convey.Convey("And service options build without external services", func() {
				opts, err := serviceOptions(context.Background(), cfg, logger.Nop())
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(opts), convey.ShouldBeGreaterThan, 0)
			})

			convey.Convey("And every chain gets a simulated bridge", func() {
				bridges := buildBridges(cfg, logger.Nop())
				convey.So(len(bridges), convey.ShouldEqual, len(cfg.Chains))
				ids := map[string]bool{}
				for _, b := range bridges {
					ids[b.ChainID()] = true
				}
				convey.So(ids["base"], convey.ShouldBeTrue)
				convey.So(ids["polygon"], convey.ShouldBeTrue)
				convey.So(ids["arbitrum"], convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a chain with a relayer URL", t, func() {
		cfg := config.New()
		cfg.Chains = map[string]config.ChainConfig{"base": {BaseFee: "0.00002", BridgeURL: "http://relayer.local", RPS: 5, Burst: 5}}

		convey.Convey("Then the HTTP bridge is used", func() {
			bridges := buildBridges(cfg, logger.Nop())
			convey.So(len(bridges), convey.ShouldEqual, 1)
			_, simulated := bridges[0].(interface{ Submissions() int })
			convey.So(simulated, convey.ShouldBeFalse)
			var _ settlement.Bridge = bridges[0]
		})
	})

	convey.Convey("Given a zero queue size", t, func() {
		t.Setenv("FANPULSE_QUEUE_SIZE", "0")

		convey.Convey("Then loading fails validation", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestServerAssembly(t *testing.T) {
	convey.Convey("Given a started service behind the full mux", t, func() {
		ctx := context.Background()
		svc := app.New(app.WithWorkerCount(2), app.WithQueueSize(16))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		swagger.Register(ctx, mux)
		api.NewServer(svc, svc, 50).Register(ctx, mux)

		convey.Convey("Then documentation and API routes are served", func() {
			for _, path := range []string{"/api-docs", "/openapi.yaml", "/healthz", "/stats", "/athletes"} {
				rec := httptest.NewRecorder()
				mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
				convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("And the metrics updaters run without panicking", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(ctx, svc) }, convey.ShouldNotPanic)

			tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			convey.So(func() { startSystemMetricsUpdater(tctx) }, convey.ShouldNotPanic)
			convey.So(func() { startServiceMetricsUpdater(tctx, svc) }, convey.ShouldNotPanic)
		})
	})
}

func TestMetricsManagerIsolation(t *testing.T) {
	convey.Convey("Given separate registries", t, func() {
		convey.Convey("Then managers can be created side by side", func() {
			for range 3 {
				m := metrics.NewManager(metrics.WithRegistry(prometheus.NewRegistry()))
				convey.So(m, convey.ShouldNotBeNil)
			}
		})
	})
}
