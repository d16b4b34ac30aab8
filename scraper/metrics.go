package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	RotationsTotal  prometheus.Counter
	PagesTotal      *prometheus.CounterVec
	ListingsTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP attempts issued by the scraper.",
		},
		[]string{"method", "outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	rotations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_identity_rotations_total",
			Help: "Total number of user agent rotations.",
		},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Search pages by outcome.",
		},
		[]string{"status"},
	)
	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_listings_total",
			Help: "Total number of listings extracted by rank type.",
		},
		[]string{"rank_type"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, rotations, pages, listings, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RotationsTotal:  rotations,
		PagesTotal:      pages,
		ListingsTotal:   listings,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest counts one attempt with its outcome (valid or invalid).
func (m *Metrics) IncRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRotation increments the rotation counter.
func (m *Metrics) IncRotation() {
	if m == nil {
		return
	}
	m.RotationsTotal.Inc()
}

// IncPage counts a page as fetched or gap.
func (m *Metrics) IncPage(status string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(status).Inc()
}

// AddListings counts extracted listings for a rank type.
func (m *Metrics) AddListings(rankType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ListingsTotal.WithLabelValues(rankType).Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
