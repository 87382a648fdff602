package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ledgerOpsTotal counts ledger operations by type.
	ledgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "ledger_operations_total",
			Help:      "Total ledger operations by type.",
		},
		[]string{"type"},
	)

	// ledgerOpDuration observes operation latency by type.
	ledgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// entriesTotal counts appended entries by kind.
	entriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "ledger_entries_total",
			Help:      "Total audit entries appended by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		ledgerOpsTotal,
		ledgerOpDuration,
		entriesTotal,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(opType string) func() {
	ledgerOpsTotal.WithLabelValues(opType).Inc()
	start := time.Now()
	return func() {
		ledgerOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
