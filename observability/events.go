package observability

import (
	"gigescrow/core/events"
	"gigescrow/core/types"
)

const settledEventType = "gig.contract.settled"

// MetricsEmitter forwards settlement events into the escrow metrics registry
// so every payout branch shows up on /metrics without the engine knowing
// about prometheus.
type MetricsEmitter struct {
	metrics *EscrowMetrics
}

// NewMetricsEmitter returns an emitter bound to the shared registry.
func NewMetricsEmitter() *MetricsEmitter {
	return &MetricsEmitter{metrics: Escrow()}
}

// Emit implements events.Emitter.
func (m *MetricsEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil || evt.EventType() != settledEventType {
		return
	}
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	full := payload.Event()
	if full == nil {
		return
	}
	branch := full.Attributes["outcome"]
	if branch == "" {
		branch = "unknown"
	}
	m.metrics.RecordSettlement(branch)
}
