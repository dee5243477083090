package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the multiplayer coordination server.
//
// Naming convention: namespace_subsystem_name
// - namespace: tempolink (application-level grouping)
// - subsystem: tcp, room, auth, replay (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, players)
// - Counter: Cumulative events (commands processed, send failures)
// - Histogram: Latency distributions (command processing time)

var (
	// ActiveConnections tracks the current number of TCP game connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tempolink",
		Subsystem: "tcp",
		Name:      "connections_active",
		Help:      "Current number of active TCP connections",
	})

	// ActiveRooms tracks the current number of active rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tempolink",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the number of players in each room.
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tempolink",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players in each room",
	}, []string{"room_id"})

	// Commands tracks the total number of protocol commands processed.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tempolink",
		Subsystem: "tcp",
		Name:      "commands_total",
		Help:      "Total protocol commands processed",
	}, []string{"command", "status"})

	// CommandProcessingDuration tracks time spent inside command handlers.
	CommandProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tempolink",
		Subsystem: "tcp",
		Name:      "command_processing_seconds",
		Help:      "Time spent processing protocol commands",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	// AuthAttempts counts authentication attempts by outcome.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tempolink",
		Subsystem: "auth",
		Name:      "attempts_total",
		Help:      "Total authentication attempts",
	}, []string{"status"})

	// ReplayBytesWritten counts bytes appended to replay files.
	ReplayBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tempolink",
		Subsystem: "replay",
		Name:      "bytes_written_total",
		Help:      "Total bytes written to replay files",
	})

	// BroadcastSendFailures counts per-peer send failures during broadcasts.
	BroadcastSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tempolink",
		Subsystem: "tcp",
		Name:      "broadcast_send_failures_total",
		Help:      "Total per-peer send failures during room broadcasts",
	})

	// RateLimitRequests counts requests passing through rate limiting.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tempolink",
		Subsystem: "http",
		Name:      "ratelimit_requests_total",
		Help:      "Total requests checked against rate limits",
	}, []string{"endpoint"})

	// RateLimitExceeded counts requests rejected by rate limiting.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tempolink",
		Subsystem: "http",
		Name:      "ratelimit_exceeded_total",
		Help:      "Total requests rejected by rate limits",
	}, []string{"endpoint", "limit_type"})

	// CircuitBreakerState tracks identity upstream breaker state
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tempolink",
		Subsystem: "identity",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per upstream (0=closed, 1=open, 2=half-open)",
	}, []string{"upstream"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
