package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values shared by the forwarding metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var (
	// ForwardedTotal counts items handled by each forwarder daemon, by outcome
	ForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oambridge_forwarded_total",
			Help: "Total number of items handled by forwarder daemons",
		},
		[]string{"daemon", "outcome"},
	)

	// DaemonRunsTotal counts scheduler runs per daemon: completed, skipped (overlap) or panicked
	DaemonRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oambridge_daemon_runs_total",
			Help: "Total number of scheduled daemon runs by result",
		},
		[]string{"daemon", "result"},
	)

	// DaemonRunDuration tracks how long each daemon tick takes in seconds
	DaemonRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oambridge_daemon_run_duration_seconds",
			Help:    "Duration of daemon ticks in seconds",
			Buckets: []float64{0.01, 0.1, 1, 5, 15, 60},
		},
		[]string{"daemon"},
	)

	// QueueDepth tracks the number of pending items per outbound queue
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oambridge_queue_depth",
			Help: "Number of items waiting in an outbound queue",
		},
		[]string{"queue"},
	)

	// RoomsCreatedTotal counts rooms and spaces created in the chat backend
	RoomsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oambridge_rooms_created_total",
			Help: "Total number of rooms and spaces created in the chat backend",
		},
		[]string{"room_type"},
	)

	// ResolutionFailuresTotal counts destination rooms that could not be resolved
	ResolutionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oambridge_room_resolution_failures_total",
			Help: "Total number of failed pseudo-alias resolutions",
		},
		[]string{"room_type"},
	)

	// RoomListRefreshesTotal counts full room listings fetched from the backend
	RoomListRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oambridge_room_list_refreshes_total",
			Help: "Total number of room listings fetched from the chat backend",
		},
	)

	// EscalationsTotal counts notifications handed to the escalation channel
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oambridge_escalations_total",
			Help: "Total number of escalated notifications by outcome",
		},
		[]string{"outcome"},
	)

	// InboundRequestsTotal counts capability invocations received from platform components
	InboundRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oambridge_inbound_requests_total",
			Help: "Total number of inbound capability invocations by method and status",
		},
		[]string{"method", "status"},
	)
)

// RecordForwarded increments the forwarded counter for a daemon and outcome
func RecordForwarded(daemon, outcome string) {
	ForwardedTotal.WithLabelValues(daemon, outcome).Inc()
}

// RecordDaemonRun increments the run counter for a daemon
func RecordDaemonRun(daemon, result string) {
	DaemonRunsTotal.WithLabelValues(daemon, result).Inc()
}

// RecordDaemonRunDuration records the duration of one daemon tick in seconds
func RecordDaemonRunDuration(daemon string, durationSeconds float64) {
	DaemonRunDuration.WithLabelValues(daemon).Observe(durationSeconds)
}

// SetQueueDepth sets the number of pending items in a queue
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordRoomCreated increments the room creation counter for a room type
func RecordRoomCreated(roomType string) {
	RoomsCreatedTotal.WithLabelValues(roomType).Inc()
}

// RecordResolutionFailure increments the resolution failure counter for a room type
func RecordResolutionFailure(roomType string) {
	ResolutionFailuresTotal.WithLabelValues(roomType).Inc()
}

// RecordRoomListRefresh increments the room listing counter
func RecordRoomListRefresh() {
	RoomListRefreshesTotal.Inc()
}

// RecordEscalation increments the escalation counter for an outcome
func RecordEscalation(outcome string) {
	EscalationsTotal.WithLabelValues(outcome).Inc()
}

// RecordInboundRequest increments the inbound request counter
func RecordInboundRequest(method, status string) {
	if status == "" {
		status = OutcomeSuccess
	}
	InboundRequestsTotal.WithLabelValues(method, status).Inc()
}
