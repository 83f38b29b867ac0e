package publisher

import "github.com/prometheus/client_golang/prometheus"

var (
	published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "odds_ingest",
		Name:      "published_total",
		Help:      "Odds updates published, by provider.",
	}, []string{"provider"})

	publishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "odds_ingest",
		Name:      "publish_failures_total",
		Help:      "Odds updates that failed to publish, by provider.",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(published, publishFailures)
}
