package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolution outcome label values.
const (
	OutcomeResolved = "resolved"
	OutcomeFallback = "fallback"
)

// ResolverMetrics counts how requested keys were resolved.
type ResolverMetrics struct {
	// KeysTotal counts resolved keys by outcome.
	KeysTotal *prometheus.CounterVec

	// BatchSize tracks the number of keys per resolve call.
	BatchSize prometheus.Histogram
}

func resolverKeysOpts() prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "keys_total",
		Help:      "Total number of resolved file keys by outcome (resolved, fallback).",
	}
}

func resolverBatchOpts() prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "batch_size",
		Help:      "Number of keys per resolve call.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	}
}

// NewResolverMetrics creates resolver metrics registered with the default registry.
func NewResolverMetrics() *ResolverMetrics {
	return &ResolverMetrics{
		KeysTotal: promauto.NewCounterVec(resolverKeysOpts(), []string{"outcome"}),
		BatchSize: promauto.NewHistogram(resolverBatchOpts()),
	}
}

// NewResolverMetricsWithRegistry creates resolver metrics registered with reg.
func NewResolverMetricsWithRegistry(reg prometheus.Registerer) *ResolverMetrics {
	keys := prometheus.NewCounterVec(resolverKeysOpts(), []string{"outcome"})
	batch := prometheus.NewHistogram(resolverBatchOpts())

	reg.MustRegister(keys)
	reg.MustRegister(batch)

	return &ResolverMetrics{KeysTotal: keys, BatchSize: batch}
}

// ObserveResolution records one resolve call.
func (m *ResolverMetrics) ObserveResolution(resolved, fallback int) {
	m.KeysTotal.WithLabelValues(OutcomeResolved).Add(float64(resolved))
	m.KeysTotal.WithLabelValues(OutcomeFallback).Add(float64(fallback))
	m.BatchSize.Observe(float64(resolved + fallback))
}
