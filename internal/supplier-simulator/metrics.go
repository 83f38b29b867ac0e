package simulator

import "github.com/prometheus/client_golang/prometheus"

// Métricas do sandbox de fornecedores
var (
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wager",
		Subsystem: "simulator",
		Name:      "ws_connections",
		Help:      "Connected feed clients.",
	})
	wsMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "simulator",
		Name:      "ws_messages_sent_total",
		Help:      "Odds messages written to feed clients.",
	})
	transfersServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "simulator",
		Name:      "transfers_total",
		Help:      "Simulated rail transfers, by rail and result.",
	}, []string{"rail", "result"})
	ticketsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "simulator",
		Name:      "tickets_opened_total",
		Help:      "Support tickets received.",
	})
)

func init() {
	prometheus.MustRegister(wsConnections, wsMessagesSent, transfersServed, ticketsOpened)
}
