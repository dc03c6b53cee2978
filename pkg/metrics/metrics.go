// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration on the reference server.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "widget_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests on the reference server.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ChatStreamsActive tracks chat streams currently open.
	ChatStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "widget_chat_streams_active",
			Help: "Number of chat streams currently open",
		},
	)

	// ChatStreamsTotal tracks chat streams by final status.
	ChatStreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_chat_streams_total",
			Help: "Total chat streams by final status",
		},
		[]string{"status"},
	)

	// ChatStreamRetries tracks transparent retries of the streaming connect.
	ChatStreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "widget_chat_stream_retries_total",
			Help: "Transparent retries of the chat stream connect",
		},
	)

	// ChatStreamErrors tracks stream errors by classification.
	ChatStreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_chat_stream_errors_total",
			Help: "Chat stream errors by classification",
		},
		[]string{"class"},
	)

	// MessagesTotal tracks conversation messages by origin and role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_messages_total",
			Help: "Conversation messages appended, by origin and role",
		},
		[]string{"origin", "role"},
	)

	// CallSessions tracks reconnection-record store operations.
	CallSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_call_sessions_total",
			Help: "Reconnection record operations",
		},
		[]string{"op"},
	)

	// ModeSwitches tracks active-submode transitions in hybrid mode.
	ModeSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_mode_switches_total",
			Help: "Active submode transitions",
		},
		[]string{"to"},
	)

	// LLMStreamDuration tracks reference-server LLM streaming duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "widget_llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// StreamOpened marks a chat stream as open.
func StreamOpened() {
	ChatStreamsActive.Inc()
}

// StreamClosed marks a chat stream as closed with its final status.
func StreamClosed(status string) {
	ChatStreamsActive.Dec()
	ChatStreamsTotal.WithLabelValues(status).Inc()
}
