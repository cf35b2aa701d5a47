package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	wireMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "probectl",
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Wire messages by direction and kind.",
		},
		[]string{"direction", "kind"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "probectl",
			Subsystem: "session",
			Name:      "decode_errors_total",
			Help:      "Replies and notifications that failed to decode.",
		},
		[]string{"kind"},
	)
	connectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "probectl",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Dial attempts, including backoff retries.",
		},
	)
	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "probectl",
			Subsystem: "session",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply.",
		},
	)
	connectedSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "probectl",
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while a session transport is installed.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			wireMessages, decodeErrors, connectAttempts, pendingRequests, connectedSessions,
		)
	})
}

func RecordMessage(direction, kind string) {
	RegisterMetrics()
	wireMessages.WithLabelValues(direction, kind).Inc()
}

func RecordDecodeError(kind string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(kind).Inc()
}

func RecordConnectAttempt() {
	RegisterMetrics()
	connectAttempts.Inc()
}

func SetPendingRequests(n int) {
	RegisterMetrics()
	pendingRequests.Set(float64(n))
}

func SetConnected(up bool) {
	RegisterMetrics()
	v := 0.0
	if up {
		v = 1.0
	}
	connectedSessions.Set(v)
}
