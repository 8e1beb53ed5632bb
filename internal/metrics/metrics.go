// Package metrics exposes Prometheus collectors for the gateway. Every method
// is safe to call on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthAttemptsTotal      *prometheus.CounterVec
	RateLimitDenialsTotal  *prometheus.CounterVec
	CacheLookupsTotal      *prometheus.CounterVec
	AnalysisDuration       prometheus.Histogram
	AnalysisFailuresTotal  prometheus.Counter
	AnalysisCollapsedTotal prometheus.Counter
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lintgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lintgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lintgate_auth_attempts_total",
				Help: "Authentication attempts on protected paths by outcome",
			},
			[]string{"outcome"},
		),
		RateLimitDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lintgate_rate_limit_denials_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"class", "window"},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lintgate_cache_lookups_total",
				Help: "Result cache lookups by result",
			},
			[]string{"result"},
		),
		AnalysisDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lintgate_analysis_duration_seconds",
				Help:    "Time spent running the analysis engine",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		AnalysisFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lintgate_analysis_failures_total",
				Help: "Analysis engine runs that failed",
			},
		),
		AnalysisCollapsedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lintgate_analysis_collapsed_total",
				Help: "Analysis requests served by an identical in-flight run",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.RateLimitDenialsTotal,
		m.CacheLookupsTotal,
		m.AnalysisDuration,
		m.AnalysisFailuresTotal,
		m.AnalysisCollapsedTotal,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// AuthOutcome counts an authentication attempt ("granted", "missing", "invalid").
func (m *Metrics) AuthOutcome(outcome string) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RateLimited counts a denial for the given class ("general", "auth") and window.
func (m *Metrics) RateLimited(class, window string) {
	if m == nil {
		return
	}
	m.RateLimitDenialsTotal.WithLabelValues(class, window).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveAnalysis records one engine run.
func (m *Metrics) ObserveAnalysis(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.AnalysisDuration.Observe(d.Seconds())
	if err != nil {
		m.AnalysisFailuresTotal.Inc()
	}
}

// AnalysisCollapsed counts a request that shared another request's engine run.
func (m *Metrics) AnalysisCollapsed() {
	if m == nil {
		return
	}
	m.AnalysisCollapsedTotal.Inc()
}
