package reconcile

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSuccess = "success"
	outcomeFailed  = "failed"
)

var (
	itemOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keysync",
			Subsystem: "reconcile",
			Name:      "items_total",
			Help:      "Reconciled items by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	sideActionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keysync",
			Subsystem: "reconcile",
			Name:      "side_action_failures_total",
			Help:      "Best-effort side actions that failed and were skipped.",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(itemOutcomes, sideActionFailures)
}

func countOutcome(operation string, ok bool) {
	outcome := outcomeSuccess
	if !ok {
		outcome = outcomeFailed
	}
	itemOutcomes.WithLabelValues(operation, outcome).Inc()
}
