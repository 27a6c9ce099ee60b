package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultPanic   = "panic"
	ResultDropped = "dropped"
)

// Registry holds all Prometheus metrics for perpboard. A nil *Registry is
// valid and records nothing, which keeps tests and one-shot commands free of
// metric plumbing.
type Registry struct {
	reg *prometheus.Registry

	CycleTotal       *prometheus.CounterVec
	CycleDuration    *prometheus.HistogramVec
	SamplesTotal     *prometheus.CounterVec
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec
	ExcludedAssets   prometheus.Gauge
	HistoryRecords   prometheus.Gauge
	TableRows        *prometheus.GaugeVec
	PublishTotal     *prometheus.CounterVec
}

// NewRegistry creates a registry with every perpboard collector plus the Go
// runtime and process collectors
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		CycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpboard_cycles_total",
				Help: "Refresh cycles by category and result",
			},
			[]string{"category", "result"},
		),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perpboard_cycle_duration_seconds",
				Help:    "Duration of each refresh cycle in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"category"},
		),

		SamplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpboard_samples_total",
				Help: "Historical samples by category and result",
			},
			[]string{"category", "result"},
		),

		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpboard_upstream_requests_total",
				Help: "Upstream API requests by endpoint and result",
			},
			[]string{"endpoint", "result"},
		),

		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perpboard_upstream_request_duration_seconds",
				Help:    "Upstream API request latency in seconds",
				Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perpboard_circuit_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),

		ExcludedAssets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "perpboard_excluded_assets",
				Help: "Base assets currently excluded from volume rankings",
			},
		),

		HistoryRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "perpboard_volume_history_records",
				Help: "Daily volume history records retained",
			},
		),

		TableRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perpboard_table_rows",
				Help: "Rows in the last committed ranking table",
			},
			[]string{"category", "timeframe", "side"},
		),

		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpboard_publish_total",
				Help: "Snapshot publications by channel and result",
			},
			[]string{"channel", "result"},
		),
	}

	r.reg.MustRegister(
		r.CycleTotal,
		r.CycleDuration,
		r.SamplesTotal,
		r.UpstreamRequests,
		r.UpstreamLatency,
		r.BreakerState,
		r.ExcludedAssets,
		r.HistoryRecords,
		r.TableRows,
		r.PublishTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Gatherer exposes the underlying registry, mainly for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler returns an HTTP handler for the Prometheus exposition
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// CycleTimer tracks execution time for one refresh cycle
type CycleTimer struct {
	metrics  *Registry
	category string
	start    time.Time
}

// StartCycle begins timing a refresh cycle
func (r *Registry) StartCycle(category string) *CycleTimer {
	return &CycleTimer{metrics: r, category: category, start: time.Now()}
}

// Stop completes the cycle timing and records the metric
func (ct *CycleTimer) Stop(result string) time.Duration {
	duration := time.Since(ct.start)
	if ct.metrics != nil {
		ct.metrics.CycleDuration.WithLabelValues(ct.category).Observe(duration.Seconds())
		ct.metrics.CycleTotal.WithLabelValues(ct.category, result).Inc()
	}

	log.Debug().
		Str("category", ct.category).
		Str("result", result).
		Dur("duration", duration).
		Msg("Refresh cycle completed")
	return duration
}

// RecordSamples adds sampled and dropped counts for a category
func (r *Registry) RecordSamples(category string, ok, dropped int) {
	if r == nil {
		return
	}
	r.SamplesTotal.WithLabelValues(category, ResultSuccess).Add(float64(ok))
	r.SamplesTotal.WithLabelValues(category, ResultDropped).Add(float64(dropped))
}

// RecordUpstream records one upstream request
func (r *Registry) RecordUpstream(endpoint, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.UpstreamRequests.WithLabelValues(endpoint, result).Inc()
	r.UpstreamLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// SetBreakerState records a breaker transition
func (r *Registry) SetBreakerState(name string, state int) {
	if r == nil {
		return
	}
	r.BreakerState.WithLabelValues(name).Set(float64(state))
}

// SetExclusion records the exclusion engine state
func (r *Registry) SetExclusion(excluded, records int) {
	if r == nil {
		return
	}
	r.ExcludedAssets.Set(float64(excluded))
	r.HistoryRecords.Set(float64(records))
}

// SetTableRows records the size of a committed table
func (r *Registry) SetTableRows(category, timeframe, side string, rows int) {
	if r == nil {
		return
	}
	r.TableRows.WithLabelValues(category, timeframe, side).Set(float64(rows))
}

// RecordPublish records one publish attempt
func (r *Registry) RecordPublish(channel, result string) {
	if r == nil {
		return
	}
	r.PublishTotal.WithLabelValues(channel, result).Inc()
}

// RecordPanic counts a cycle that panicked before it could stop its timer
func (r *Registry) RecordPanic(category string) {
	if r == nil {
		return
	}
	r.CycleTotal.WithLabelValues(category, ResultPanic).Inc()
}
