package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then collectors use the default namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.cancellations.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["teamrun_allocation_cancellations_total"], ShouldBeTrue)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("runs"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.rebalances.Inc()

			Convey("Then the options shape the metric names", func() {
				So(testutil.CollectAndCount(registry, "test_runs_rebalances_total"), ShouldEqual, 1)
			})
		})
	})
}

func TestAllocationMetrics(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When signups are recorded by outcome", func() {
			before := testutil.ToFloat64(globalManager.signups.WithLabelValues("seated"))
			RecordSignup("seated")
			RecordSignup("seated")
			RecordSignup("waitlisted")

			Convey("Then each outcome has its own series", func() {
				So(testutil.ToFloat64(globalManager.signups.WithLabelValues("seated"))-before, ShouldEqual, 2)
			})
		})

		Convey("When a run's occupancy is updated", func() {
			UpdateRunOccupancy("run-metrics", 7, 3)

			Convey("Then both gauges hold the values", func() {
				So(testutil.ToFloat64(globalManager.seatedPerRun.WithLabelValues("run-metrics")), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.waitlistPerRun.WithLabelValues("run-metrics")), ShouldEqual, 3)
			})
		})

		Convey("When commit conflicts are recorded", func() {
			before := testutil.ToFloat64(globalManager.commitConflicts)
			RecordCommitConflict()

			Convey("Then the counter moves by one", func() {
				So(testutil.ToFloat64(globalManager.commitConflicts)-before, ShouldEqual, 1)
			})
		})

		Convey("When every helper is called", func() {
			Convey("Then none of them panic", func() {
				So(func() {
					RecordCancellation()
					RecordPin("pin")
					RecordPin("unpin")
					RecordRebalance()
					RecordMatchingLatency(0.4)
					RecordOperationError("signup", "duplicate_signup")
					RecordOperationLatency("signup", 1.5)
					UpdateRunsTotal(4)
					RecordBoardEventDelivered()
					RecordBoardEventDropped()
					RecordBoardEventDuplicate()
					UpdateRepositoryRunsTotal(4)
					UpdateRepositoryRecordsTotal(40)
					RecordRepositoryCommitLatency(2)
					RecordRepositoryLoadLatency(1)
					RecordHTTPRequest("signups", "POST", "201")
					RecordHTTPRequestDuration("signups", "POST", "201", 3)
					UpdateQueueSize(1)
					UpdateQueueCapacity(64)
					UpdateQueueUtilization(1.0 / 64)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError()
					RecordQueueProcessingLatency(0.2)
					UpdateWorkerCount(2)
					UpdateWorkerActiveCount(1)
					UpdateWorkerIdleCount(1)
					RecordWorkerProcessingLatency(0.3)
					RecordWorkerError()
					RecordErrorByComponent("service", "conflict")
					RecordErrorByType("client_error", "medium")
					RecordErrorByEndpoint("signups", "POST", "client_error")
					RecordErrorLatency("http", "client_error", 1)
					UpdateSystemMemoryUsage(1 << 20)
					UpdateSystemGoroutineCount(12)
					RecordSystemGCPauseTime(0.5)
				}, ShouldNotPanic)
			})
		})
	})
}

func TestRegisterCollector(t *testing.T) {
	Convey("Given an extra collector", t, func() {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: "teamrun_test_extra_total", Help: "extra"})

		Convey("When it is registered twice", func() {
			first := RegisterCollector(c)
			second := RegisterCollector(c)

			Convey("Then the second attempt reports a register failure", func() {
				So(first, ShouldBeNil)
				So(errors.Is(second, ErrRegisterFailed), ShouldBeTrue)
				So(GetRegistry().Unregister(c), ShouldBeTrue)
			})
		})
	})
}
