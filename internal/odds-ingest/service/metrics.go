package service

import "github.com/prometheus/client_golang/prometheus"

var reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wager",
	Subsystem: "odds_ingest",
	Name:      "supplier_reconnects_total",
	Help:      "Supplier WebSocket reconnections, by provider.",
}, []string{"provider"})

func init() {
	prometheus.MustRegister(reconnects)
}
