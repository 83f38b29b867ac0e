package payments

import "github.com/prometheus/client_golang/prometheus"

var (
	depositsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "payments",
		Name:      "deposits_total",
		Help:      "Deposits recorded, by provider.",
	}, []string{"provider"})

	payoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "payments",
		Name:      "payouts_total",
		Help:      "Payout state changes, by resulting status.",
	}, []string{"status"})

	railLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wager",
		Subsystem: "payments",
		Name:      "rail_submit_seconds",
		Help:      "Rail submission latency, by rail and result.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"rail", "result"})

	railFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "payments",
		Name:      "rail_failures_total",
		Help:      "Rail submission failures, by rail and kind.",
	}, []string{"rail", "kind"})
)

func init() {
	prometheus.MustRegister(depositsTotal, payoutsTotal, railLatency, railFailures)
}
