package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/teamrun/internal/adapters/repository"
	"github.com/okian/teamrun/internal/adapters/repository/sqlite"
	"github.com/okian/teamrun/internal/config"
	"github.com/okian/teamrun/pkg/logger"
	"github.com/okian/teamrun/pkg/metrics"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestOpenStore(t *testing.T) {
	convey.Convey("Given the configured storage drivers", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)

		convey.Convey("When the memory driver is selected", func() {
			store, err := openStore(ctx, cfg)

			convey.Convey("Then an in-memory store is returned", func() {
				convey.So(err, convey.ShouldBeNil)
				_, ok := store.(*repository.MemoryStore)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(store.Close(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the sqlite driver is selected", func() {
			cfg.StorageDriver = config.StorageSQLite
			cfg.SQLitePath = filepath.Join(t.TempDir(), "runs.db")
			store, err := openStore(ctx, cfg)

			convey.Convey("Then a sqlite store is returned", func() {
				convey.So(err, convey.ShouldBeNil)
				_, ok := store.(*sqlite.Store)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(store.Close(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the driver is unknown", func() {
			cfg.StorageDriver = "etcd"
			_, err := openStore(ctx, cfg)

			convey.Convey("Then the config is rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestWiring(t *testing.T) {
	convey.Convey("Given a service built from the default config", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		cfg.FeedWorkerCount = 1
		store, err := openStore(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)

		svc := newService(cfg, store, logger.Get())
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()
		srv := httptest.NewServer(newMux(svc))
		defer srv.Close()

		convey.Convey("When a run is created over HTTP", func() {
			resp, err := http.Post(srv.URL+"/runs", "application/json",
				strings.NewReader(`{"run_id":"raid","rules":[{"classes":["tank"]},{"allow_rich":true}]}`))
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()

			convey.Convey("Then it is created and counted in stats", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusCreated)
				convey.So(svc.GetStats()["totalRuns"], convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the health endpoint is scraped", func() {
			resp, err := http.Get(srv.URL + "/healthz")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()

			convey.Convey("Then it answers with the metrics exposition", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When the HTTP server is built", func() {
			hs := newHTTPServer(cfg, newMux(svc))

			convey.Convey("Then it carries the configured address and timeouts", func() {
				convey.So(hs.Addr, convey.ShouldEqual, cfg.Addr)
				convey.So(hs.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)
			})
		})
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	updateSystemMetrics()
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "teamrun_allocation_system_goroutine_count" {
			if f.GetMetric()[0].GetGauge().GetValue() <= 0 {
				t.Errorf("expected a positive goroutine count")
			}
			return
		}
	}
}
