package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betel_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betel_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketConnectionsTotal is the gauge of open websocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betel_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketEventsTotal counts inbound socket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betel_websocket_events_total",
		Help: "Total inbound WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betel_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// BusEventsEmitted counts outbound bus events by type and delivery path.
	BusEventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betel_bus_events_emitted_total",
		Help: "Outbound real-time events by type and delivery path",
	}, []string{"event_type", "path"})

	// PresenceOnlineUsers is the number of users with at least one joined connection.
	PresenceOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betel_presence_online_users",
		Help: "Users currently online in this process",
	})

	// NotificationsCreated counts persisted notifications by type.
	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betel_notifications_created_total",
		Help: "Persisted notifications by type",
	}, []string{"type"})

	// BlobOperations counts blob store calls by operation and outcome.
	BlobOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betel_blob_operations_total",
		Help: "Blob store operations by operation and outcome",
	}, []string{"operation", "outcome"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// Outcome maps an error to the "ok"/"error" label used by outcome counters.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
