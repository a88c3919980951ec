package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ChargeMetrics records per-processor charge outcomes and gateway latency.
type ChargeMetrics struct {
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewChargeMetrics registers the charge metrics on the provided registerer.
func NewChargeMetrics(reg prometheus.Registerer) *ChargeMetrics {
	if reg == nil {
		return &ChargeMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "charge_outcomes_total",
		Help: "Charge attempts by processor and outcome.",
	}, []string{"processor", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Duration of payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"processor"})
	reg.MustRegister(outcomes, latency)
	return &ChargeMetrics{
		outcomes: outcomes,
		latency:  latency,
	}
}

// IncOutcome increments the outcome counter for the processor.
func (m *ChargeMetrics) IncOutcome(processor, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(processor), normalizeLabel(outcome)).Inc()
}

// ObserveGatewayLatency records the duration of one gateway round trip.
func (m *ChargeMetrics) ObserveGatewayLatency(processor string, duration time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	m.latency.WithLabelValues(normalizeLabel(processor)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
