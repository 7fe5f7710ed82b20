package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records instruction-level activity on the escrow ledger.
type EscrowMetrics struct {
	instructions *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Escrow returns the lazily-initialised escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payguard",
				Subsystem: "escrow",
				Name:      "instructions_total",
				Help:      "Total escrow instructions segmented by instruction and outcome.",
			}, []string{"instruction", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "payguard",
				Subsystem: "escrow",
				Name:      "instruction_duration_seconds",
				Help:      "Latency distribution for escrow instruction handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"instruction"}),
		}
		prometheus.MustRegister(
			escrowRegistry.instructions,
			escrowRegistry.latency,
		)
	})
	return escrowRegistry
}

// Observe records one handled instruction with its outcome and duration.
func (m *EscrowMetrics) Observe(instruction, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.instructions.WithLabelValues(instruction, outcome).Inc()
	m.latency.WithLabelValues(instruction).Observe(elapsed.Seconds())
}
