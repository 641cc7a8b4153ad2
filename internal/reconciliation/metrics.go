package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	heldFundsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playvault",
		Subsystem: "reconciliation",
		Name:      "held_funds",
		Help:      "Total escrowed balance found in the last reconciliation run.",
	})

	driftGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playvault",
		Subsystem: "reconciliation",
		Name:      "drift",
		Help:      "Held funds minus the ledger-expected amount in the last run.",
	})

	reconcileRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playvault",
		Subsystem: "reconciliation",
		Name:      "runs_total",
		Help:      "Completed reconciliation runs by outcome.",
	}, []string{"outcome"})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "playvault",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playvault",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		heldFundsGauge,
		driftGauge,
		reconcileRuns,
		reconcileDuration,
		reconcileErrors,
	)
}
