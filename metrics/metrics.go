// Package metrics defines the Prometheus collectors reported by the index
// builder and the query engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Build outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

// Query result types.
const (
	ResultHit   = "hit"
	ResultEmpty = "empty"
	ResultError = "error"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	BuildsTotal        *prometheus.CounterVec
	BuildDuration      *prometheus.HistogramVec
	EntriesIndexed     prometheus.Counter
	QueriesTotal       *prometheus.CounterVec
	QueryLatency       prometheus.Histogram
	QueryResultsCount  prometheus.Histogram
	SegmentCompactions prometheus.Counter
}

// New creates all collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geoindex_builds_total",
				Help: "Total ingestion calls by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		BuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geoindex_build_duration_seconds",
				Help:    "Duration of ingestion calls in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"mode"},
		),
		EntriesIndexed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "geoindex_entries_indexed_total",
				Help: "Total entries committed to the index.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geoindex_queries_total",
				Help: "Total queries by result type (hit, empty, error).",
			},
			[]string{"result_type"},
		),
		QueryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "geoindex_query_latency_seconds",
				Help:    "Query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "geoindex_query_results_count",
				Help:    "Number of entries returned per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		SegmentCompactions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "geoindex_segment_compactions_total",
				Help: "Total segment compactions performed by the disk store.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.BuildsTotal,
			m.BuildDuration,
			m.EntriesIndexed,
			m.QueriesTotal,
			m.QueryLatency,
			m.QueryResultsCount,
			m.SegmentCompactions,
		)
	}

	return m
}

// ObserveBuild records the outcome of one ingestion call.
func (m *Metrics) ObserveBuild(mode, outcome string, entries int, took time.Duration) {
	if m == nil {
		return
	}

	m.BuildsTotal.WithLabelValues(mode, outcome).Inc()
	m.BuildDuration.WithLabelValues(mode).Observe(took.Seconds())
	if outcome == OutcomeCommitted {
		m.EntriesIndexed.Add(float64(entries))
	}
}

// ObserveQuery records the outcome of one query.
func (m *Metrics) ObserveQuery(results int, err error, took time.Duration) {
	if m == nil {
		return
	}

	resultType := ResultHit
	switch {
	case err != nil:
		resultType = ResultError
	case results == 0:
		resultType = ResultEmpty
	}

	m.QueriesTotal.WithLabelValues(resultType).Inc()
	m.QueryLatency.Observe(took.Seconds())
	if err == nil {
		m.QueryResultsCount.Observe(float64(results))
	}
}

// ObserveCompaction records a completed segment compaction.
func (m *Metrics) ObserveCompaction() {
	if m == nil {
		return
	}

	m.SegmentCompactions.Inc()
}
