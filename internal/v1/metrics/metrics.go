package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the watch-room playback coordinator.
//
// Naming convention: namespace_subsystem_name
// - namespace: watchroom (application-level grouping)
// - subsystem: websocket, room, media (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (connections, rooms, members)
// - Counter: cumulative events (frames processed, uploads, errors)
// - Histogram: latency distributions (broadcast time)

var (
	// ActiveConnections tracks the current number of active WebSocket connections
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchroom",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchroom",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the member count per room
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchroom",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_code"})

	// WebsocketEvents tracks processed inbound frames by kind and outcome
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket frames processed",
	}, []string{"event_type", "status"})

	// PlaybackTransitions counts accepted playback state transitions by action
	PlaybackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "room",
		Name:      "playback_transitions_total",
		Help:      "Accepted playback control transitions",
	}, []string{"action"})

	// BroadcastDuration tracks time spent fanning out one room broadcast
	BroadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "watchroom",
		Subsystem: "room",
		Name:      "broadcast_seconds",
		Help:      "Time spent enqueueing one broadcast to all members",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})

	// UploadsTotal counts media uploads by outcome
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "media",
		Name:      "uploads_total",
		Help:      "Media uploads by outcome",
	}, []string{"status"})

	// UploadBytes counts bytes accepted into the media store
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "media",
		Name:      "upload_bytes_total",
		Help:      "Total bytes written to the media store",
	})

	// RangeRequests counts streamed responses by status class
	RangeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "media",
		Name:      "stream_requests_total",
		Help:      "Media stream requests by response status",
	}, []string{"status"})

	// CircuitBreakerState tracks the Redis breaker state (0=closed,1=open,2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchroom",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per dependency",
	}, []string{"dependency"})

	// CircuitBreakerFailures counts operations dropped by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "bus",
		Name:      "circuit_breaker_failures_total",
		Help:      "Operations rejected because a circuit breaker was open",
	}, []string{"dependency"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
