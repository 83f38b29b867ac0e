package pricing

import "github.com/prometheus/client_golang/prometheus"

var (
	feedStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wager",
		Subsystem: "pricing",
		Name:      "feed_status",
		Help:      "Feed status per provider (0=healthy, 1=stale, 2=down).",
	}, []string{"provider"})

	liveSuspendedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wager",
		Subsystem: "pricing",
		Name:      "live_suspended",
		Help:      "1 while new live wagers are suspended by feed health.",
	})

	failoversTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "pricing",
		Name:      "failovers_total",
		Help:      "Transitions from primary to secondary pricing provider.",
	})

	admissionRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "pricing",
		Name:      "admission_rejections_total",
		Help:      "Live wager admissions refused by the gate, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(feedStatusGauge, liveSuspendedGauge, failoversTotal, admissionRejections)
}

func statusValue(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 0
	case StatusStale:
		return 1
	default:
		return 2
	}
}
