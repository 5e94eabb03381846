// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Fetch metrics
	APIRequestsTotal  *prometheus.CounterVec // by stream (bid/offer)
	APIThrottleSleeps prometheus.Counter
	FetchLatency      prometheus.Histogram

	// Ingest metrics
	PeriodsProcessed prometheus.Counter
	PeriodsFailed    prometheus.Counter
	RecordsIngested  prometheus.Counter
	DaysIngested     prometheus.Counter

	// Verification metrics
	VerificationChecks *prometheus.CounterVec // by status
	VerificationRuns   *prometheus.CounterVec // by verdict

	// Repair metrics
	RepairRuns      *prometheus.CounterVec // by outcome
	CascadeDuration prometheus.Histogram
}

// NewMetrics creates a Metrics instance with all metrics registered on the
// default registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "curtailmine"
	}

	return &Metrics{
		APIRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "api_requests_total",
			Help:      "Total external API requests issued",
		}, []string{"stream"}),
		APIThrottleSleeps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "api_throttle_sleeps_total",
			Help:      "Total fixed-cooldown sleeps after throttling responses",
		}),
		FetchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "latency_seconds",
			Help:      "External API request latency",
			Buckets:   prometheus.DefBuckets,
		}),
		PeriodsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "periods_processed_total",
			Help:      "Settlement periods processed successfully",
		}),
		PeriodsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "periods_failed_total",
			Help:      "Settlement periods that exhausted fetch retries",
		}),
		RecordsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_ingested_total",
			Help:      "Curtailment records written",
		}),
		DaysIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "days_ingested_total",
			Help:      "Full-day ingest runs completed",
		}),
		VerificationChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "period_checks_total",
			Help:      "Per-period verification outcomes",
		}, []string{"status"}),
		VerificationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "runs_total",
			Help:      "Verification runs by overall verdict",
		}, []string{"verdict"}),
		RepairRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repair",
			Name:      "runs_total",
			Help:      "Repair runs by outcome",
		}, []string{"outcome"}),
		CascadeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cascade",
			Name:      "recompute_seconds",
			Help:      "Cascade recompute duration",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// Handler returns an HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics server on addr. Blocks until the server exits.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
