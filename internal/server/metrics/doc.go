// Package metrics provides Prometheus metrics for the imagingdesk server.
//
// Exposed metric families:
//   - HTTP request counts and latency by route, method and status code
//   - key resolution outcomes (resolved from the index or fallback)
//   - object store operation latency and counts by operation and status
//
// Metrics are served by a dedicated HTTP server on /metrics.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	httpMetrics := metrics.NewHTTPMetricsWithRegistry(reg)
//	resolverMetrics := metrics.NewResolverMetricsWithRegistry(reg)
//	storeMetrics := metrics.NewObjectStoreMetricsWithRegistry(reg)
//
//	metricsServer := metrics.NewServerWithRegistry(":9090", reg, logger)
//	metricsServer.Start()
package metrics

const namespace = "imagingdesk"

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)
