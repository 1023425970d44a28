package notify

import "github.com/prometheus/client_golang/prometheus"

var sentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reputation",
	Subsystem: "notify",
	Name:      "notifications_total",
	Help:      "Notifications by kind and outcome (sent, failed, duplicate).",
}, []string{"kind", "outcome"})

func init() {
	prometheus.MustRegister(sentCounter)
}
