package fetcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the fetcher.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	PagesFetchedTotal  prometheus.Counter
	ItemsListedTotal   prometheus.Counter
	ItemsEnrichedTotal prometheus.Counter
	ItemsFailedTotal   prometheus.Counter
	ItemsSkippedTotal  prometheus.Counter
	RetriesTotal       prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordenes_requests_total",
			Help: "Total HTTP requests issued, by request class.",
		},
		[]string{"class"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordenes_request_duration_seconds",
			Help:    "HTTP request latency, by request class.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ordenes_pages_fetched_total",
			Help: "Total listing pages fetched.",
		},
	)
	listed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ordenes_items_listed_total",
			Help: "Total unique orders that matched the date filter.",
		},
	)
	enriched := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ordenes_items_enriched_total",
			Help: "Total orders whose detail download produced an output row.",
		},
	)
	failed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ordenes_items_failed_total",
			Help: "Total orders dropped because their detail download failed.",
		},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ordenes_items_skipped_total",
			Help: "Total orders skipped after download (empty detail or out of range).",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ordenes_retries_total",
			Help: "Total retry waits taken.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordenes_errors_total",
			Help: "Total request errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, pages, listed, enriched, failed, skipped, retries, errorsTotal)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		PagesFetchedTotal:  pages,
		ItemsListedTotal:   listed,
		ItemsEnrichedTotal: enriched,
		ItemsFailedTotal:   failed,
		ItemsSkippedTotal:  skipped,
		RetriesTotal:       retries,
		ErrorsTotal:        errorsTotal,
	}
}

// IncRequest increments the requests counter for a class.
func (m *Metrics) IncRequest(class string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(class).Inc()
}

// ObserveDuration records an HTTP request duration for a class.
func (m *Metrics) ObserveDuration(class string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(class).Observe(d.Seconds())
}

// IncPage increments the listing pages counter.
func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesFetchedTotal.Inc()
}

// IncListed increments the matched orders counter.
func (m *Metrics) IncListed() {
	if m == nil {
		return
	}
	m.ItemsListedTotal.Inc()
}

// IncEnriched increments the enriched orders counter.
func (m *Metrics) IncEnriched() {
	if m == nil {
		return
	}
	m.ItemsEnrichedTotal.Inc()
}

// IncFailed increments the failed orders counter.
func (m *Metrics) IncFailed() {
	if m == nil {
		return
	}
	m.ItemsFailedTotal.Inc()
}

// IncSkipped increments the skipped orders counter.
func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.ItemsSkippedTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
