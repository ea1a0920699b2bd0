// Package metrics declares this service's Prometheus instrumentation:
// webhook ingress, per-job processing, static-tool/vulnerability/LLM
// evidence sources, review posting, and queue depth.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PullRequestTotal counts processed review jobs, labeled by outcome.
	PullRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_pull_requests_total",
		Help: "The total number of processed pull requests",
	}, []string{"status"}) // status: success, failed

	// WebhookRequests counts incoming webhook deliveries, labeled by how
	// the ingress pipeline disposed of them.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_webhook_requests_total",
		Help: "The total number of received webhook requests",
	}, []string{"status"}) // status: accepted, invalid_signature, ignored_event, ignored_action, ignored_draft, invalid_shape, missing_installation, error_read

	// ProcessingDuration measures end-to-end review-job latency.
	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_processing_duration_seconds",
		Help:    "Time taken to process a pull request",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"}) // result: success, error

	// ToolRunsTotal counts static-analyzer invocations, labeled by tool
	// and outcome.
	ToolRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_tool_runs_total",
		Help: "The total number of static-analysis tool invocations",
	}, []string{"tool", "status"}) // status: success, error, unavailable

	// VulnScansTotal counts vulnerability-database queries, labeled by
	// ecosystem and outcome.
	VulnScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_vuln_scans_total",
		Help: "The total number of vulnerability database queries",
	}, []string{"ecosystem", "status"}) // status: success, error

	// LLMCallsTotal counts LLM completion calls, labeled by provider and
	// outcome.
	LLMCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_llm_calls_total",
		Help: "The total number of LLM completion calls",
	}, []string{"provider", "status"}) // status: success, error, token_limit

	// LLMTokensUsed sums reported token usage per LLM call, labeled by
	// provider.
	LLMTokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_llm_tokens_used_total",
		Help: "Total tokens consumed by LLM completion calls",
	}, []string{"provider"})

	// ReviewPostFailures counts failed review-post attempts to the forge.
	ReviewPostFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_review_post_failures_total",
		Help: "Total number of failed review posts to the forge",
	}, []string{"reason"})

	// PayloadParseFailures counts failed webhook payload parses.
	PayloadParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_payload_parse_failures_total",
		Help: "Total number of webhook payloads that failed to parse",
	}, []string{"failure_type"}) // failure_type: json

	// QueueDepth reports the current number of pending jobs, labeled by
	// queue backend.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_queue_depth",
		Help: "Current number of pending review jobs",
	}, []string{"backend"})
)
