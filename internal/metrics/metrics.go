// Package metrics exposes Prometheus collectors for the audit service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	providerCallsTotal          *prometheus.CounterVec
	providerCallDurationSeconds *prometheus.HistogramVec
	providerRetriesTotal        *prometheus.CounterVec
	providerFallbacksTotal      *prometheus.CounterVec
	auditJobsTotal              *prometheus.CounterVec
	auditActiveWorkers          prometheus.Gauge
	rateLimitDelaySeconds       *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_provider_calls_total",
				Help: "Settled provider calls, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		providerCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_provider_call_duration_seconds",
				Help:    "Wall time per provider call including retries.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		)

		providerRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_provider_retries_total",
				Help: "Failed provider attempts, labeled by provider.",
			},
			[]string{"provider"},
		)

		providerFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_provider_fallbacks_total",
				Help: "Synthesized provider results, labeled by provider.",
			},
			[]string{"provider"},
		)

		auditJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_jobs_total",
				Help: "Total number of audit jobs handled by workers, labeled by status.",
			},
			[]string{"status"},
		)

		auditActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audit_active_workers",
				Help: "Number of workers currently processing an audit.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_rate_limit_delay_seconds",
				Help:    "Histogram of provider rate limit waits.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProviderCall records one settled provider call.
// outcome is one of ok, fallback, failed or skipped.
func ObserveProviderCall(provider, outcome string, duration time.Duration) {
	Init()
	providerCallsTotal.WithLabelValues(provider, outcome).Inc()
	if outcome == "fallback" {
		providerFallbacksTotal.WithLabelValues(provider).Inc()
	}
	if duration > 0 {
		providerCallDurationSeconds.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// ObserveProviderRetry counts one failed provider attempt.
func ObserveProviderRetry(provider string) {
	Init()
	providerRetriesTotal.WithLabelValues(provider).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	auditJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	auditActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	auditActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(provider string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(provider).Observe(duration.Seconds())
}
