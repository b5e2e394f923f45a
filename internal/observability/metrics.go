package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/storeledger/internal/jobs"
)

// Metrics collects the Prometheus metrics of the service.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	journalEntries    *prometheus.CounterVec
	journalLines      *prometheus.CounterVec
	journalRejections *prometheus.CounterVec
	stockAdjustments  *prometheus.CounterVec
	jobs              *jobmetrics.Metrics
}

// NewMetrics initialises the registry with HTTP, ledger and job metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storeledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storeledger_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storeledger_journal_entries_total",
		Help: "Committed journal entries by reference type.",
	}, []string{"reference_type"})
	lines := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storeledger_journal_lines_total",
		Help: "Committed journal lines by reference type.",
	}, []string{"reference_type"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storeledger_journal_rejections_total",
		Help: "Journal postings rejected before any write, by reason.",
	}, []string{"reason"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storeledger_stock_adjustments_total",
		Help: "Stock row adjustments by scope and result.",
	}, []string{"scope", "result"})
	registry.MustRegister(requests, duration, entries, lines, rejections, adjustments)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		journalEntries:    entries,
		journalLines:      lines,
		journalRejections: rejections,
		stockAdjustments:  adjustments,
		jobs:              jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EntryPosted counts a committed journal entry.
func (m *Metrics) EntryPosted(referenceType string, lines int) {
	if m == nil {
		return
	}
	m.journalEntries.WithLabelValues(referenceType).Inc()
	m.journalLines.WithLabelValues(referenceType).Add(float64(lines))
}

// EntryRejected counts a posting refused before writing.
func (m *Metrics) EntryRejected(reason string) {
	if m == nil {
		return
	}
	m.journalRejections.WithLabelValues(reason).Inc()
}

// StockAdjusted counts a stock row adjustment.
func (m *Metrics) StockAdjusted(scope, result string) {
	if m == nil {
		return
	}
	m.stockAdjustments.WithLabelValues(scope, result).Inc()
}

// Jobs exposes the background job collectors registered on this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
