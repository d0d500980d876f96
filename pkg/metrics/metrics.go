// Package metrics defines the Prometheus metric collectors used by the
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	DocumentsAddedTotal   *prometheus.CounterVec
	DocumentsRemovedTotal *prometheus.CounterVec
	ParseFailuresTotal    *prometheus.CounterVec
	PostingsGenerated     prometheus.Counter
	SearchQueriesTotal    *prometheus.CounterVec
	SearchLatency         *prometheus.HistogramVec
	SearchResultsCount    *prometheus.HistogramVec
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter
	ActiveIndices         prometheus.Gauge
	PostbacksTotal        *prometheus.CounterVec
	PostbackQueueDepth    prometheus.Gauge
	ReconcileRunsTotal    *prometheus.CounterVec
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocumentsAddedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "komodo_documents_added_total",
				Help: "Documents added by final state.",
			},
			[]string{"state"},
		),
		DocumentsRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "komodo_documents_removed_total",
				Help: "Documents removed, split by whether stored data was destroyed.",
			},
			[]string{"destroy"},
		),
		ParseFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "komodo_parse_failures_total",
				Help: "Documents that failed to parse, by document type.",
			},
			[]string{"document_type"},
		),
		PostingsGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "komodo_postings_generated_total",
				Help: "Total postings written.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "komodo_queries_total",
				Help: "Search and enumeration queries by kind and result type (hit, zero_result, error).",
			},
			[]string{"kind", "result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "komodo_query_latency_seconds",
				Help:    "Query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"kind"},
		),
		SearchResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "komodo_query_results_count",
				Help:    "Number of matches per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
			[]string{"kind"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "komodo_cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "komodo_cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		ActiveIndices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "komodo_active_indices",
				Help: "Number of indices held by the manager.",
			},
		),
		PostbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "komodo_postbacks_total",
				Help: "Postback deliveries by status (delivered, failed, dropped).",
			},
			[]string{"status"},
		),
		PostbackQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "komodo_postback_queue_depth",
				Help: "Postbacks waiting for a worker.",
			},
		),
		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "komodo_reconcile_runs_total",
				Help: "Index reconciliation passes by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "komodo_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.DocumentsAddedTotal,
		m.DocumentsRemovedTotal,
		m.ParseFailuresTotal,
		m.PostingsGenerated,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ActiveIndices,
		m.PostbacksTotal,
		m.PostbackQueueDepth,
		m.ReconcileRunsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveQuery records one search or enumeration.
func (m *Metrics) ObserveQuery(kind string, elapsed time.Duration, matches int, failed bool) {
	if m == nil {
		return
	}
	resultType := "hit"
	switch {
	case failed:
		resultType = "error"
	case matches == 0:
		resultType = "zero_result"
	}
	m.SearchQueriesTotal.WithLabelValues(kind, resultType).Inc()
	m.SearchLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
	if !failed {
		m.SearchResultsCount.WithLabelValues(kind).Observe(float64(matches))
	}
}

// DocumentAdded records the final state of an add.
func (m *Metrics) DocumentAdded(state string, postings int) {
	if m == nil {
		return
	}
	m.DocumentsAddedTotal.WithLabelValues(state).Inc()
	m.PostingsGenerated.Add(float64(postings))
}

// DocumentRemoved records a removal.
func (m *Metrics) DocumentRemoved(destroy bool) {
	if m == nil {
		return
	}
	label := "false"
	if destroy {
		label = "true"
	}
	m.DocumentsRemovedTotal.WithLabelValues(label).Inc()
}

// ParseFailed records a parse failure for a document type.
func (m *Metrics) ParseFailed(docType string) {
	if m == nil {
		return
	}
	m.ParseFailuresTotal.WithLabelValues(docType).Inc()
}

// CacheLookup records a query cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// SetActiveIndices records the manager's index count.
func (m *Metrics) SetActiveIndices(n int) {
	if m == nil {
		return
	}
	m.ActiveIndices.Set(float64(n))
}

// Postback records a postback outcome.
func (m *Metrics) Postback(status string) {
	if m == nil {
		return
	}
	m.PostbacksTotal.WithLabelValues(status).Inc()
}

// SetPostbackQueueDepth records how many postbacks are waiting.
func (m *Metrics) SetPostbackQueueDepth(n int) {
	if m == nil {
		return
	}
	m.PostbackQueueDepth.Set(float64(n))
}

// Reconciled records one reconciliation pass.
func (m *Metrics) Reconciled(failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.ReconcileRunsTotal.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
