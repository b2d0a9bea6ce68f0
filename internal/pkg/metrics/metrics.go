package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetmap",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Bridge metrics
	CommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Subsystem: "bridge",
		Name:      "commands_sent_total",
		Help:      "Commands transmitted to remote map engines",
	}, []string{"type"})

	CommandsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Subsystem: "bridge",
		Name:      "commands_failed_total",
		Help:      "Commands the channel failed to transmit",
	}, []string{"type"})

	CommandsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Subsystem: "bridge",
		Name:      "commands_discarded_total",
		Help:      "Pending commands dropped when a booting session was disposed",
	})

	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Subsystem: "bridge",
		Name:      "events_received_total",
		Help:      "Remote events decoded and routed",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Subsystem: "bridge",
		Name:      "events_dropped_total",
		Help:      "Inbound frames discarded, by error kind",
	}, []string{"kind"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetmap",
		Subsystem: "bridge",
		Name:      "active_sessions",
		Help:      "Mounted bridge sessions that are not disposed",
	})

	SessionTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Subsystem: "bridge",
		Name:      "session_timeouts_total",
		Help:      "Sessions disposed because the handshake did not complete",
	})

	HandshakeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleetmap",
		Subsystem: "bridge",
		Name:      "handshake_duration_seconds",
		Help:      "Time from mount to the remote ready event",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// Fleet feed
	VehiclePositionsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Subsystem: "fleet",
		Name:      "vehicle_positions_applied_total",
		Help:      "Vehicle positions applied to tracking maps",
	})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetmap",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of connected remote engines",
	})

	SnapshotHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Subsystem: "snapshot",
		Name:      "hits_total",
		Help:      "Overlay snapshots restored on mount",
	})

	SnapshotMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Subsystem: "snapshot",
		Name:      "misses_total",
		Help:      "Restore keys with no stored snapshot",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	}
}
