package ledger

import "github.com/prometheus/client_golang/prometheus"

var (
	appendedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reputation",
		Subsystem: "ledger",
		Name:      "entries_appended_total",
		Help:      "Number of ledger entries appended, labeled by source.",
	}, []string{"source"})

	recalculatedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reputation",
		Subsystem: "ledger",
		Name:      "users_recalculated_total",
		Help:      "Number of user aggregates recalculated, labeled by outcome.",
	}, []string{"outcome"})

	chunksCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reputation",
		Subsystem: "ledger",
		Name:      "recalc_chunks_total",
		Help:      "Number of recalculation chunks processed.",
	})

	recalcDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reputation",
		Subsystem: "ledger",
		Name:      "recalc_duration_seconds",
		Help:      "Duration of full recalculation passes.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(appendedCounter, recalculatedCounter, chunksCounter, recalcDuration)
}
