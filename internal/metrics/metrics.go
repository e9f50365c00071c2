package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the transition engine. Rejected transitions are not
// persisted anywhere, so these counters are where rejects stay visible.
var (
	TransitionsCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_transitions_committed_total",
			Help: "Committed status transitions by target status",
		},
		[]string{"status"},
	)

	TransitionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_transition_rejections_total",
			Help: "Rejected transition requests by rejection class",
		},
		[]string{"class"},
	)

	NotificationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_notification_outcomes_total",
			Help: "Notification send attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "appointment_transition_commit_duration_seconds",
			Help:    "Duration of the status update plus audit write transaction",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		TransitionsCommitted,
		TransitionRejections,
		NotificationOutcomes,
		CommitDuration,
	)
}
