// ============================================================================
// lapboard Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Function: Collects refresh-cycle and fetch metrics and exposes them to Prometheus
//
// Metric families:
//
//   1. Counters:
//      - lapboard_cycles_started_total:      cycles that reached the fetch stage
//      - lapboard_cycles_succeeded_total:    cycles that delivered a leaderboard
//      - lapboard_cycles_failed_total:       cycles that delivered a fetch error
//      - lapboard_cycles_skipped_total:      triggers dropped by the single-flight guard
//      - lapboard_validation_errors_total:   cycles rejected before touching the network
//
//   2. Histogram:
//      - lapboard_cycle_duration_seconds: fetch + aggregation latency
//
//   3. Gauges:
//      - lapboard_ranked_competitors:  rows in the latest leaderboard
//      - lapboard_competitors_missing: competitors skipped after a 404 in the latest leaderboard
//      - lapboard_refresh_running:     1 while periodic refresh is on
//
// Example queries:
//
//   # failure ratio over 5 minutes
//   rate(lapboard_cycles_failed_total[5m]) / rate(lapboard_cycles_started_total[5m])
//
//   # p95 cycle latency
//   histogram_quantile(0.95, rate(lapboard_cycle_duration_seconds_bucket[5m]))
//
// A nil *Collector is valid and records nothing.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus 指標收集器
type Collector struct {
	cyclesStarted      prometheus.Counter
	cyclesSucceeded    prometheus.Counter
	cyclesFailed       prometheus.Counter
	cyclesSkipped      prometheus.Counter
	validationErrors   prometheus.Counter

	cycleDuration prometheus.Histogram

	rankedCompetitors  prometheus.Gauge
	competitorsMissing prometheus.Gauge
	refreshRunning     prometheus.Gauge
}

// NewCollector creates the collector and registers it with the default registerer.
func NewCollector() *Collector {
	c := &Collector{
		cyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lapboard_cycles_started_total",
			Help: "Total number of refresh cycles submitted for fetching",
		}),
		cyclesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lapboard_cycles_succeeded_total",
			Help: "Total number of refresh cycles that delivered a leaderboard",
		}),
		cyclesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lapboard_cycles_failed_total",
			Help: "Total number of refresh cycles that delivered an error",
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lapboard_cycles_skipped_total",
			Help: "Total number of refresh triggers skipped because a cycle was in flight",
		}),
		validationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lapboard_validation_errors_total",
			Help: "Total number of cycles rejected by input validation",
		}),
		competitorsMissing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lapboard_competitors_missing",
			Help: "Number of competitors skipped with a 404 in the latest leaderboard",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lapboard_cycle_duration_seconds",
			Help:    "Refresh cycle latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		rankedCompetitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lapboard_ranked_competitors",
			Help: "Number of competitors in the latest leaderboard",
		}),
		refreshRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lapboard_refresh_running",
			Help: "1 while periodic refresh is running, 0 otherwise",
		}),
	}

	prometheus.MustRegister(c.cyclesStarted)
	prometheus.MustRegister(c.cyclesSucceeded)
	prometheus.MustRegister(c.cyclesFailed)
	prometheus.MustRegister(c.cyclesSkipped)
	prometheus.MustRegister(c.validationErrors)
	prometheus.MustRegister(c.competitorsMissing)
	prometheus.MustRegister(c.cycleDuration)
	prometheus.MustRegister(c.rankedCompetitors)
	prometheus.MustRegister(c.refreshRunning)

	return c
}

// RecordCycleStarted counts a cycle handed to the worker.
func (c *Collector) RecordCycleStarted() {
	if c == nil {
		return
	}
	c.cyclesStarted.Inc()
}

// RecordCycleSucceeded counts a delivered leaderboard.
func (c *Collector) RecordCycleSucceeded(durationSeconds float64, ranked, missing int) {
	if c == nil {
		return
	}
	c.cyclesSucceeded.Inc()
	c.cycleDuration.Observe(durationSeconds)
	c.rankedCompetitors.Set(float64(ranked))
	c.competitorsMissing.Set(float64(missing))
}

// RecordCycleFailed counts a cycle that ended in an error.
func (c *Collector) RecordCycleFailed(durationSeconds float64) {
	if c == nil {
		return
	}
	c.cyclesFailed.Inc()
	c.cycleDuration.Observe(durationSeconds)
}

// RecordCycleSkipped counts a trigger dropped by the single-flight guard.
func (c *Collector) RecordCycleSkipped() {
	if c == nil {
		return
	}
	c.cyclesSkipped.Inc()
}

// RecordValidationError counts a cycle rejected before any network call.
func (c *Collector) RecordValidationError() {
	if c == nil {
		return
	}
	c.validationErrors.Inc()
}

// SetRunning mirrors the scheduler state.
func (c *Collector) SetRunning(running bool) {
	if c == nil {
		return
	}
	if running {
		c.refreshRunning.Set(1)
	} else {
		c.refreshRunning.Set(0)
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer serves /metrics on port.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
