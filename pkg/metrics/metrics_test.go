package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then collectors are registered under the lostfits namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.killmailsIngested.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "lostfits_pipeline_killmails_ingested_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("ingest"),
				WithMetricPrefix("dev"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names carry the prefix and the interval is kept", func() {
				So(manager.refreshInterval, ShouldEqual, 5*time.Second)
				manager.feedFetchErrors.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var names []string
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(strings.Join(names, ","), ShouldContainSubstring, "test_ingest_dev_feed_fetch_errors_total")
			})
		})

		Convey("When options receive empty values", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithCustomLabels(nil),
				WithRefreshInterval(-1*time.Second),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "lostfits")
				So(manager.subsystem, ShouldEqual, "pipeline")
				So(manager.refreshInterval, ShouldEqual, defaultRefreshInterval)
				So(len(manager.histogramBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording ingestion metrics", func() {
			before := testutil.ToFloat64(globalManager.killmailsIngested)
			RecordKillmailIngested()
			RecordKillmailIngested()

			Convey("Then the counter moves and the ingest time is stamped", func() {
				So(testutil.ToFloat64(globalManager.killmailsIngested)-before, ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.lastIngestUnix), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When recording labelled metrics", func() {
			RecordResolverLookup("type", "hit")
			RecordCatalogRequest("types", "200", 12)
			RecordJobStarted("reseed_types")
			RecordJobFinished("reseed_types", "succeeded")
			UpdateJobProgress("reseed_types", 10)
			RecordCacheLookup("memory", "miss")

			Convey("Then each series is readable", func() {
				So(testutil.ToFloat64(globalManager.resolverLookups.WithLabelValues("type", "hit")), ShouldBeGreaterThanOrEqualTo, 1)
				So(testutil.ToFloat64(globalManager.jobProgress.WithLabelValues("reseed_types")), ShouldEqual, 10)
			})
		})

		Convey("When recording every helper", func() {
			So(func() {
				RecordKillmailDuplicate()
				RecordKillmailMalformed()
				RecordKillmailFailed()
				RecordFeedFetchError()
				RecordFeedEmptyPoll()
				RecordPollTickDuration(3)
				RecordPollTickSkipped()
				UpdateDedupeSize(5)
				RecordAggregateIncrement()
				RecordAggregateRebuild()
				UpdateAggregateDrift(0)
				RecordLocationBackfill(3)
				RecordResolverDropped()
				RecordRateLimiterWait(333)
				UpdateQueueSize(1)
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0)
				UpdateWorkerActiveCount(4)
				RecordWorkerProcessingLatency(2)
				RecordWorkerError()
				RecordRepositoryQueryLatency(1)
				UpdateKillmailsStored(100)
				RecordHTTPRequest("/api/stats", "GET", "200")
				RecordHTTPRequestDuration("/api/stats", "GET", "200", 5)
				RecordErrorByComponent("poller", "feed")
				RecordErrorByType("feed", "medium")
				RecordErrorByEndpoint("/api/fits", "GET", "server_error")
				RecordErrorLatency("http", "server_error", 4)
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.2)
			}, ShouldNotPanic)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent writers", t, func() {
		before := testutil.ToFloat64(globalManager.queueEnqueueRate)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					RecordQueueEnqueue()
					RecordHTTPRequest("/test", "GET", "200")
				}
			}()
		}
		wg.Wait()

		Convey("Then no increment is lost", func() {
			So(testutil.ToFloat64(globalManager.queueEnqueueRate)-before, ShouldEqual, 1000)
		})
	})
}

func TestRegistry(t *testing.T) {
	Convey("Given the shared registry", t, func() {
		So(GetRegistry(), ShouldNotBeNil)
		So(RefreshInterval(), ShouldEqual, defaultRefreshInterval)
	})
}
