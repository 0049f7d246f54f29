package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	transactionsResolved *prometheus.CounterVec
	reconcilerRepairs    prometheus.Counter
	processorRequests    *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		transactionsResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "payhub",
				Subsystem: "ledger",
				Name:      "transactions_resolved_total",
				Help:      "Ledger entries moved to a terminal state, partitioned by type and status.",
			},
			[]string{"type", "status"},
		),
		reconcilerRepairs: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "payhub",
				Subsystem: "reconciler",
				Name:      "repairs_total",
				Help:      "Balance effects applied by the reconciler instead of the request path.",
			},
		),
		processorRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "payhub",
				Subsystem: "processor",
				Name:      "requests_total",
				Help:      "Processor gateway calls partitioned by method and result.",
			},
			[]string{"processor", "result"},
		),
	}
}

func (m *Metrics) TransactionResolved(txType string, status string) {
	if m == nil {
		return
	}
	m.transactionsResolved.WithLabelValues(txType, status).Inc()
}

func (m *Metrics) ReconcilerRepair() {
	if m == nil {
		return
	}
	m.reconcilerRepairs.Inc()
}

func (m *Metrics) ProcessorRequest(processor string, result string) {
	if m == nil {
		return
	}
	m.processorRequests.WithLabelValues(processor, result).Inc()
}
