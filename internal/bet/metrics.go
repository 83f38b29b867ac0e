package bet

import "github.com/prometheus/client_golang/prometheus"

var (
	betsPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "bet",
		Name:      "placed_total",
		Help:      "Bet slips placed, by live flag.",
	}, []string{"live"})

	betsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "bet",
		Name:      "rejected_total",
		Help:      "Bet placements refused, by reason.",
	}, []string{"reason"})

	settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "bet",
		Name:      "settlements_total",
		Help:      "Bet settlements, by outcome.",
	}, []string{"outcome"})

	offersIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "bet",
		Name:      "cashout_offers_total",
		Help:      "Cash-out offers issued.",
	})

	acceptResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "bet",
		Name:      "cashout_accepts_total",
		Help:      "Cash-out acceptance attempts, by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(betsPlaced, betsRejected, settlements, offersIssued, acceptResults)
}
