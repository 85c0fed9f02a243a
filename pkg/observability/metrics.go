package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage run outcomes
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics holds the pipeline's Prometheus collectors
type Metrics struct {
	StageRunsTotal       *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	FacetPagesTotal      *prometheus.CounterVec
	FacetKeysSkipped     *prometheus.CounterVec
	CountersWrittenTotal *prometheus.CounterVec
	LastSuccess          prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers the pipeline metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repostats_stage_runs_total",
				Help: "Total number of indexer stage runs",
			},
			[]string{"stage", "status"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repostats_stage_duration_seconds",
				Help:    "Indexer stage duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"stage"},
		),
		FacetPagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repostats_facet_pages_total",
				Help: "Total number of facet pages read from the search index",
			},
			[]string{"field"},
		),
		FacetKeysSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repostats_facet_keys_skipped_total",
				Help: "Total number of facet keys skipped because they are not entity identifiers",
			},
			[]string{"field"},
		),
		CountersWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repostats_counters_written_total",
				Help: "Total number of stats counters written",
			},
			[]string{"kind", "metric", "window"},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "repostats_last_success_timestamp_seconds",
				Help: "Unix time of the last pipeline run in which every stage succeeded",
			},
		),
	}

	registry.MustRegister(
		m.StageRunsTotal,
		m.StageDuration,
		m.FacetPagesTotal,
		m.FacetKeysSkipped,
		m.CountersWrittenTotal,
		m.LastSuccess,
	)
	return m
}

// SetOTel mirrors stage and counter metrics to OpenTelemetry instruments
func (m *Metrics) SetOTel(o *OTelMetrics) {
	if m != nil {
		m.otel = o
	}
}

// StageFinished records one indexer stage run
func (m *Metrics) StageFinished(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageRunsTotal.WithLabelValues(stage, status).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.otel.stageFinished(stage, status, d)
}

// FacetPage records one facet page read
func (m *Metrics) FacetPage(field string) {
	if m == nil {
		return
	}
	m.FacetPagesTotal.WithLabelValues(field).Inc()
}

// FacetKeySkipped records a rejected facet key
func (m *Metrics) FacetKeySkipped(field string) {
	if m == nil {
		return
	}
	m.FacetKeysSkipped.WithLabelValues(field).Inc()
}

// CountersWritten records n counter updates
func (m *Metrics) CountersWritten(kind, metric, window string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CountersWrittenTotal.WithLabelValues(kind, metric, window).Add(float64(n))
	m.otel.countersWritten(kind, metric, window, n)
}

// RunSucceeded records the time of a fully successful run
func (m *Metrics) RunSucceeded(t time.Time) {
	if m == nil {
		return
	}
	m.LastSuccess.Set(float64(t.Unix()))
}

// Handler returns an HTTP handler serving the registry
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
