// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// MessagesSentTotal tracks persisted direct messages.
	MessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total direct messages persisted",
		},
	)

	// MessagesReadTotal tracks messages flipped to read.
	MessagesReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_read_total",
			Help: "Total messages marked read",
		},
	)

	// ConnectionTransitionsTotal tracks connection lifecycle changes.
	ConnectionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_transitions_total",
			Help: "Connection lifecycle transitions",
		},
		[]string{"transition"},
	)

	// RealtimeSessionsActive tracks open realtime sessions per transport.
	RealtimeSessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_sessions_active",
			Help: "Number of open realtime sessions",
		},
		[]string{"transport"},
	)

	// RealtimeEventsTotal tracks events published to the hub.
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Realtime events published",
		},
		[]string{"type"},
	)

	// RealtimeDroppedTotal tracks events dropped because a session queue was full.
	RealtimeDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_dropped_total",
			Help: "Realtime events dropped for slow sessions",
		},
	)

	// RelayErrorsTotal tracks failures of the cross-instance relay.
	RelayErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_relay_errors_total",
			Help: "Cross-instance relay failures",
		},
		[]string{"relay", "op"},
	)

	// InboundThrottledTotal tracks client events rejected by the session limiter.
	InboundThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_inbound_throttled_total",
			Help: "Client events rejected by the per-session limiter",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordTransition records a connection lifecycle transition.
func RecordTransition(transition string) {
	ConnectionTransitionsTotal.WithLabelValues(transition).Inc()
}

// SessionOpened increments the active session count for a transport.
func SessionOpened(transport string) {
	RealtimeSessionsActive.WithLabelValues(transport).Inc()
}

// SessionClosed decrements the active session count for a transport.
func SessionClosed(transport string) {
	RealtimeSessionsActive.WithLabelValues(transport).Dec()
}
