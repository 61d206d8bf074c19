package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type EscrowMetrics struct {
	transitions  *prometheus.CounterVec
	valueMoved   *prometheus.CounterVec
	feesRouted   *prometheus.CounterVec
	bulkSkipped  prometheus.Counter
	bulkClaimed  prometheus.Counter
	reverted     *prometheus.CounterVec
	openDisputes prometheus.Gauge
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_transitions_total",
				Help: "Count of committed escrow operations by operation and variant.",
			}, []string{"operation", "variant"}),
			valueMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_value_moved_total",
				Help: "Token base units moved by the escrow engine by direction.",
			}, []string{"direction"}),
			feesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_fees_routed_total",
				Help: "Token base units routed to the treasury by source operation.",
			}, []string{"operation"}),
			bulkSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_bulk_claim_skipped_units_total",
				Help: "Units skipped by bulk claims because they were not eligible.",
			}),
			bulkClaimed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_bulk_claim_claimed_units_total",
				Help: "Units settled by bulk claims.",
			}),
			reverted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_reverted_calls_total",
				Help: "Escrow calls rolled back because of an error, by operation.",
			}, []string{"operation"}),
			openDisputes: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_open_disputes",
				Help: "Disputes opened and not yet resolved since process start.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.valueMoved,
			escrowRegistry.feesRouted,
			escrowRegistry.bulkSkipped,
			escrowRegistry.bulkClaimed,
			escrowRegistry.reverted,
			escrowRegistry.openDisputes,
		)
	})
	return escrowRegistry
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func toFloat(amount *big.Int) float64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	return f
}

func (m *EscrowMetrics) ObserveTransition(operation, variant string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(labelOrUnknown(operation), labelOrUnknown(variant)).Inc()
}

// ObserveValue records value leaving or entering escrow. Direction is one of
// "deposit", "claim" or "refund".
func (m *EscrowMetrics) ObserveValue(direction string, amount *big.Int) {
	if m == nil {
		return
	}
	if v := toFloat(amount); v > 0 {
		m.valueMoved.WithLabelValues(labelOrUnknown(direction)).Add(v)
	}
}

func (m *EscrowMetrics) ObserveFee(operation string, amount *big.Int) {
	if m == nil {
		return
	}
	if v := toFloat(amount); v > 0 {
		m.feesRouted.WithLabelValues(labelOrUnknown(operation)).Add(v)
	}
}

func (m *EscrowMetrics) ObserveBulkClaim(claimed, skipped int) {
	if m == nil {
		return
	}
	if claimed > 0 {
		m.bulkClaimed.Add(float64(claimed))
	}
	if skipped > 0 {
		m.bulkSkipped.Add(float64(skipped))
	}
}

func (m *EscrowMetrics) ObserveReverted(operation string) {
	if m == nil {
		return
	}
	m.reverted.WithLabelValues(labelOrUnknown(operation)).Inc()
}

func (m *EscrowMetrics) DisputeOpened() {
	if m == nil {
		return
	}
	m.openDisputes.Inc()
}

func (m *EscrowMetrics) DisputeResolved() {
	if m == nil {
		return
	}
	m.openDisputes.Dec()
}
