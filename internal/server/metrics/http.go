package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds metrics for the public HTTP API.
type HTTPMetrics struct {
	// RequestsTotal counts requests by route pattern, method and status code.
	RequestsTotal *prometheus.CounterVec

	// DurationHistogram tracks handler latency by route pattern and method.
	DurationHistogram *prometheus.HistogramVec
}

var httpLabels = []string{"route", "method", "code"}

func httpRequestsOpts() prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests by route, method and status code.",
	}
}

func httpDurationOpts() prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds by route and method.",
		Buckets:   prometheus.DefBuckets,
	}
}

// NewHTTPMetrics creates HTTP metrics registered with the default registry.
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		RequestsTotal:     promauto.NewCounterVec(httpRequestsOpts(), httpLabels),
		DurationHistogram: promauto.NewHistogramVec(httpDurationOpts(), []string{"route", "method"}),
	}
}

// NewHTTPMetricsWithRegistry creates HTTP metrics registered with reg.
func NewHTTPMetricsWithRegistry(reg prometheus.Registerer) *HTTPMetrics {
	requests := prometheus.NewCounterVec(httpRequestsOpts(), httpLabels)
	duration := prometheus.NewHistogramVec(httpDurationOpts(), []string{"route", "method"})

	reg.MustRegister(requests)
	reg.MustRegister(duration)

	return &HTTPMetrics{
		RequestsTotal:     requests,
		DurationHistogram: duration,
	}
}

// RecordRequest records one finished request. route is the matched mux
// pattern, not the raw path, to keep label cardinality bounded.
func (m *HTTPMetrics) RecordRequest(route, method, code string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(route, method, code).Inc()
	m.DurationHistogram.WithLabelValues(route, method).Observe(durationSeconds)
}
