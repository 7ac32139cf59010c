// Package metrics exposes the hub's Prometheus surface: the counters
// and gauges an operator needs to watch dispatch volume, stream
// concurrency, and billing flow without reading logs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_messages_dispatched_total",
		Help: "User messages dispatched to an agent task, by outcome.",
	}, []string{"outcome"}) // admitted, queued, agent_offline

	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_streams_active",
		Help: "Number of (conversation, agent) streams currently in flight.",
	})

	StreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hub_stream_duration_seconds",
		Help:    "Wall-clock duration of a stream from admission to finalization.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	StreamsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_streams_finalized_total",
		Help: "Streams finalized, by terminal status.",
	}, []string{"status"}) // completed, error, cancelled

	BillingDeductions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_billing_deductions_total",
		Help: "Marketplace billing deductions attempted, by outcome.",
	}, []string{"outcome"}) // charged, free, insufficient_balance

	WSConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hub_ws_connections",
		Help: "Live WebSocket connections, by fabric.",
	}, []string{"fabric"}) // user, agent

	PendingEventsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_pending_events_queued_total",
		Help: "Events pushed to the pending-event queue for offline users.",
	})
)

// StreamStarted records a stream admission transition; callers pair it
// with StreamFinished (which decrements StreamsActive) once the stream
// finalizes.
func StreamStarted() {
	StreamsActive.Inc()
}

func StreamFinished(status string, durationSeconds float64) {
	StreamsActive.Dec()
	StreamDuration.Observe(durationSeconds)
	StreamsFinalized.WithLabelValues(status).Inc()
}
