package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "reconciliation",
		Name:      "runs_total",
		Help:      "Reconciliation runs, by provider and result.",
	}, []string{"provider", "status"})

	lastDifference = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wager",
		Subsystem: "reconciliation",
		Name:      "last_difference",
		Help:      "Ledger minus settlement total of the latest run, by provider.",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(runsTotal, lastDifference)
}
