// Package metrics holds the Prometheus collectors of the query pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ekaya_query_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_query_requests_total",
			Help: "Total number of answered questions by outcome and error kind.",
		},
		[]string{"outcome", "kind"},
	)
	repairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_query_repairs_total",
			Help: "Total number of intent repair prompts by the failure that caused them.",
		},
		[]string{"kind"},
	)
	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_query_guardrail_verdicts_total",
			Help: "Total number of guardrail verdicts by decision and rejection reason.",
		},
		[]string{"decision", "reason"},
	)
	rowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ekaya_query_rows_returned",
			Help:    "Rows returned per executed query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 250, 500, 1000},
		},
	)
	snapshotRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_query_snapshot_refresh_total",
			Help: "Total number of schema snapshot refresh attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		stageDuration,
		requestsTotal,
		repairsTotal,
		verdictsTotal,
		rowsReturned,
		snapshotRefreshTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveRequest counts a finished request. kind is empty on success.
func ObserveRequest(kind string) {
	if kind == "" {
		requestsTotal.WithLabelValues("success", "").Inc()
		return
	}
	requestsTotal.WithLabelValues("failure", kind).Inc()
}

func IncrementRepair(kind string) {
	repairsTotal.WithLabelValues(kind).Inc()
}

func ObserveVerdict(decision, reason string) {
	verdictsTotal.WithLabelValues(decision, reason).Inc()
}

func ObserveRows(n int) {
	if n < 0 {
		n = 0
	}
	rowsReturned.Observe(float64(n))
}

func ObserveSnapshotRefresh(ok bool) {
	if ok {
		snapshotRefreshTotal.WithLabelValues("success").Inc()
		return
	}
	snapshotRefreshTotal.WithLabelValues("failure").Inc()
}
