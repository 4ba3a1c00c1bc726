// Package metrics provides Prometheus metrics for the live class service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated tracks the total number of live sessions created.
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_sessions_created_total",
			Help: "Total number of live sessions created",
		},
	)

	// SessionStateTransitions tracks committed session status changes.
	SessionStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_session_state_transitions_total",
			Help: "Total number of session status transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// ParticipantJoins tracks joins by role and whether the participant waits for admission.
	ParticipantJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_participant_joins_total",
			Help: "Total number of participant joins",
		},
		[]string{"role", "waiting"},
	)

	// ReconnectFailures tracks rejected signaling keys.
	ReconnectFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_reconnect_failures_total",
			Help: "Total number of reconnects rejected for an invalid signaling key",
		},
	)

	// ChatMessages tracks accepted chat messages.
	ChatMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_chat_messages_total",
			Help: "Total number of chat messages accepted",
		},
	)

	// HandRaises tracks hand raise state changes.
	HandRaises = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_hand_raises_total",
			Help: "Total number of hand raise state changes",
		},
		[]string{"state"},
	)

	// EventsRecorded tracks audit events by outcome: written, retried, dropped.
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_events_recorded_total",
			Help: "Total number of audit events by outcome",
		},
		[]string{"outcome"},
	)

	// SweepDeleted tracks rows removed or updated by the retention sweeper.
	SweepDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_sweep_rows_total",
			Help: "Total number of rows touched by the retention sweeper",
		},
		[]string{"task"},
	)

	// OpenConnections tracks WebSocket connections held by this instance.
	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_ws_open_connections",
			Help: "Number of open signaling WebSocket connections",
		},
	)

	// HTTPRequests tracks API requests by route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks API latency by route.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "live_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordStateTransition records a session status change.
func RecordStateTransition(fromState, toState string) {
	SessionStateTransitions.WithLabelValues(fromState, toState).Inc()
}

// RecordJoin records a participant join.
func RecordJoin(role string, waiting bool) {
	w := "false"
	if waiting {
		w = "true"
	}
	ParticipantJoins.WithLabelValues(role, w).Inc()
}

// RecordEvent records the outcome of an audit event write.
func RecordEvent(outcome string) {
	EventsRecorded.WithLabelValues(outcome).Inc()
}

// RecordSweep records rows handled by one sweeper task.
func RecordSweep(task string, n int64) {
	if n > 0 {
		SweepDeleted.WithLabelValues(task).Add(float64(n))
	}
}
