// Package stats provides interface for collecting server metrics.
package stats

// Metric names recorded by server.
const (
	MetricHits       = "kvcache_hits_total"
	MetricMisses     = "kvcache_misses_total"
	MetricEvictions  = "kvcache_evictions_total"
	MetricRejections = "kvcache_rejections_total"

	MetricSpaceUsed      = "kvcache_space_used"
	MetricConnections    = "kvcache_connections"
	MetricRequestSeconds = "kvcache_request_seconds"
)

// MetricRequests returns name of request counter for operation op.
// Collector has no labels, so every operation gets its own counter.
func MetricRequests(op string) string {
	return "kvcache_" + op + "_requests_total"
}

// Collector defines the interface for collecting metrics.
// Implementations must be safe for concurrent use.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
