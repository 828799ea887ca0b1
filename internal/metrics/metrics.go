// Package metrics provides Prometheus instrumentation for the live-app chat
// server. It exposes gauges for connection and room counts, counters for
// message outcomes and violations, and a histogram for moderation latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liveapp_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the number of live sessions with at least one local
	// participant connection.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liveapp_active_rooms",
		Help: "Current number of rooms with local participants",
	})

	// MessagesTotal counts processed chat messages by terminal outcome:
	// "delivered", "warned", "blocked", or "banned".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liveapp_messages_total",
		Help: "Total number of chat messages processed, by outcome",
	}, []string{"outcome"})

	// ViolationsTotal counts violation records written to the ledger.
	ViolationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liveapp_violations_total",
		Help: "Total number of moderation violations recorded",
	})

	// ModerationLatency records end-to-end moderation decision latency in seconds.
	ModerationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "liveapp_moderation_latency_seconds",
		Help:    "Moderation pipeline decision latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveRooms,
		MessagesTotal,
		ViolationsTotal,
		ModerationLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
