package ledger

import "github.com/prometheus/client_golang/prometheus"

var (
	appendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "ledger",
		Name:      "appends_total",
		Help:      "Ledger entries appended, by transaction type.",
	}, []string{"type"})

	appendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "ledger",
		Name:      "append_failures_total",
		Help:      "Rejected ledger appends, by reason.",
	}, []string{"reason"})

	integrityFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_integrity_failures_total",
		Help: "Balance continuity violations detected at write or verification time.",
	})
)

func init() {
	prometheus.MustRegister(appendsTotal, appendFailures, integrityFailures)
}
