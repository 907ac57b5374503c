// Package metrics exposes Prometheus instruments for the chat engine. All
// instruments are registered at init via promauto and shared process-wide.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts processed chat turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_chat_turns_total",
			Help: "Chat turns processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	// TurnDuration observes end-to-end turn latency.
	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskpilot_chat_turn_duration_seconds",
			Help:    "End-to-end chat turn duration.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
	)

	// CompletionRounds observes completion-service calls per turn.
	CompletionRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskpilot_completion_rounds_per_turn",
			Help:    "Completion service calls made within one turn.",
			Buckets: []float64{1, 2, 3},
		},
	)

	// ToolExecutionsTotal counts tool executions by tool and status.
	ToolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_tool_executions_total",
			Help: "Tool executions, labeled by tool name and status.",
		},
		[]string{"tool", "status"},
	)

	// ToolExecutionDuration observes per-tool execution latency.
	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskpilot_tool_execution_duration_seconds",
			Help:    "Tool execution duration by tool name.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// FallbacksTotal counts fallback responses by error kind.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_fallback_responses_total",
			Help: "Fallback responses returned, labeled by error kind.",
		},
		[]string{"kind"},
	)

	// HTTPRequestsTotal counts API requests by route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_http_requests_total",
			Help: "HTTP requests, labeled by route and status code.",
		},
		[]string{"route", "status"},
	)

	// RateLimitedTotal counts requests rejected by the per-user limiter.
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskpilot_rate_limited_requests_total",
			Help: "Requests rejected by the per-user rate limiter.",
		},
	)
)
