package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ObjectStoreMetrics holds metrics related to object store operations.
type ObjectStoreMetrics struct {
	// LatencyHistogram tracks object store operation latencies broken down by operation and status.
	// Labels: operation (presign_get, presign_put, get), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total object store operations by operation and status.
	RequestsTotal *prometheus.CounterVec
}

// DefaultObjectStoreLatencyBuckets are latency buckets for object store operations.
// Presigning is local and sub-millisecond; GetObject goes to the network.
var DefaultObjectStoreLatencyBuckets = []float64{
	0.0001, // 100us
	0.001,  // 1ms
	0.005,  // 5ms
	0.025,  // 25ms
	0.1,    // 100ms
	0.25,   // 250ms
	1.0,    // 1s
	5.0,    // 5s
	30.0,   // 30s
}

func objectStoreLatencyOpts() prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "objectstore",
		Name:      "operation_latency_seconds",
		Help:      "Object store operation latency in seconds, broken down by operation and status.",
		Buckets:   DefaultObjectStoreLatencyBuckets,
	}
}

func objectStoreRequestsOpts() prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "objectstore",
		Name:      "operations_total",
		Help:      "Total number of object store operations, broken down by operation and status.",
	}
}

// NewObjectStoreMetrics creates and registers object store metrics with the
// default registry.
func NewObjectStoreMetrics() *ObjectStoreMetrics {
	return &ObjectStoreMetrics{
		LatencyHistogram: promauto.NewHistogramVec(objectStoreLatencyOpts(), []string{"operation", "status"}),
		RequestsTotal:    promauto.NewCounterVec(objectStoreRequestsOpts(), []string{"operation", "status"}),
	}
}

// NewObjectStoreMetricsWithRegistry creates object store metrics registered with a custom registry.
func NewObjectStoreMetricsWithRegistry(reg prometheus.Registerer) *ObjectStoreMetrics {
	latency := prometheus.NewHistogramVec(objectStoreLatencyOpts(), []string{"operation", "status"})
	requests := prometheus.NewCounterVec(objectStoreRequestsOpts(), []string{"operation", "status"})

	reg.MustRegister(latency)
	reg.MustRegister(requests)

	return &ObjectStoreMetrics{
		LatencyHistogram: latency,
		RequestsTotal:    requests,
	}
}

// RecordOperation records an object store operation latency and increments the request counter.
func (m *ObjectStoreMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}
