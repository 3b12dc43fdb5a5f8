package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type EscrowMetrics struct {
	operations  *prometheus.CounterVec
	settlements prometheus.Counter
	refunds     prometheus.Counter
	disputes    prometheus.Counter
	feesTotal   *prometheus.CounterVec
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the process-wide escrow metrics collection, registering the
// collectors on first use.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_operations_total",
				Help: "Count of escrow engine operations by method and outcome.",
			}, []string{"method", "outcome"}),
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_settlements_total",
				Help: "Count of escrows that completed with both confirmations.",
			}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_refunds_total",
				Help: "Count of expired escrows refunded to their depositors.",
			}),
			disputes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_disputes_total",
				Help: "Count of escrows flagged as disputed.",
			}),
			feesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_fees_collected_total",
				Help: "Cumulative fee amounts extracted at release, by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.settlements,
			escrowRegistry.refunds,
			escrowRegistry.disputes,
			escrowRegistry.feesTotal,
		)
	})
	return escrowRegistry
}

// ObserveOperation records one engine call and its outcome.
func (m *EscrowMetrics) ObserveOperation(method string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(method, outcome).Inc()
}

// ObserveSettlement records a completed escrow.
func (m *EscrowMetrics) ObserveSettlement() {
	if m == nil {
		return
	}
	m.settlements.Inc()
}

// ObserveRefund records an expired escrow refund.
func (m *EscrowMetrics) ObserveRefund() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

// ObserveDispute records a dispute flag being raised.
func (m *EscrowMetrics) ObserveDispute() {
	if m == nil {
		return
	}
	m.disputes.Inc()
}

// ObserveFee records a fee amount extracted for the asset. Amounts wider than
// a float mantissa lose precision in the counter, which is acceptable for a
// monitoring signal.
func (m *EscrowMetrics) ObserveFee(asset string, fee *big.Int) {
	if m == nil || fee == nil || fee.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(fee).Float64()
	m.feesTotal.WithLabelValues(asset).Add(value)
}
