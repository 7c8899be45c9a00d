package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artstudio_ws_connections",
		Help: "Open websocket connections.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artstudio_active_rooms",
		Help: "Project rooms with at least one joined connection.",
	})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artstudio_events_total",
		Help: "Inbound real-time events handled, by event type.",
	}, []string{"type"})

	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artstudio_dropped_events_total",
		Help: "Inbound events or outbound messages that were discarded, by reason.",
	}, []string{"reason"})

	SessionWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artstudio_session_write_failures_total",
		Help: "Session persistence operations that failed, by operation.",
	}, []string{"op"})

	CleanupRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artstudio_session_cleanup_retries_total",
		Help: "Replayed session cleanup messages, by outcome.",
	}, []string{"outcome"})
)

// Drop reasons
const (
	ReasonNotJoined      = "not_joined"
	ReasonUnknownType    = "unknown_type"
	ReasonInvalidPayload = "invalid_payload"
	ReasonRateLimited    = "rate_limited"
	ReasonSendBufferFull = "send_buffer_full"
	ReasonSessionQueue   = "session_queue_full"
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
