package achievements

import "github.com/prometheus/client_golang/prometheus"

var (
	unlockedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reputation",
		Subsystem: "achievements",
		Name:      "unlocked_total",
		Help:      "Number of achievements unlocked, labeled by achievement type.",
	}, []string{"type"})

	skippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reputation",
		Subsystem: "achievements",
		Name:      "malformed_skipped_total",
		Help:      "Number of achievements skipped at load because of a malformed requirement.",
	})
)

func init() {
	prometheus.MustRegister(unlockedCounter, skippedCounter)
}
