package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wager",
		Subsystem: "realtime",
		Name:      "connected_clients",
		Help:      "Open WebSocket connections on this node.",
	})

	delivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "realtime",
		Name:      "delivered_total",
		Help:      "Messages written to WebSocket clients, by type.",
	}, []string{"type"})

	deliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wager",
		Subsystem: "realtime",
		Name:      "delivery_failures_total",
		Help:      "Failed WebSocket writes.",
	})
)

func init() {
	prometheus.MustRegister(connectedClients, delivered, deliveryFailures)
}
