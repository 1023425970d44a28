package events

import "github.com/prometheus/client_golang/prometheus"

var (
	scheduledCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reputation",
		Subsystem: "events",
		Name:      "scheduled_total",
		Help:      "Number of karma events scheduled, labeled by event type.",
	}, []string{"type"})

	activeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reputation",
		Subsystem: "events",
		Name:      "active",
		Help:      "Number of karma events active at the last sweep.",
	})
)

func init() {
	prometheus.MustRegister(scheduledCounter, activeGauge)
}
