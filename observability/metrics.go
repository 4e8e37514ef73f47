package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records protocol operation activity for the RPC layer.
type EscrowMetrics struct {
	operations  *prometheus.CounterVec
	settlements *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Escrow returns the lazily-initialised metrics registry used to record
// escrow operation activity.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gigescrow",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total protocol operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gigescrow",
				Subsystem: "engine",
				Name:      "settlements_total",
				Help:      "Total custody settlements segmented by branch.",
			}, []string{"branch"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "gigescrow",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.settlements,
			escrowRegistry.latency,
		)
	})
	return escrowRegistry
}

// ObserveOperation records one protocol operation with its outcome and
// duration.
func (m *EscrowMetrics) ObserveOperation(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// RecordSettlement records one completed custody settlement branch.
func (m *EscrowMetrics) RecordSettlement(branch string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(branch).Inc()
}
