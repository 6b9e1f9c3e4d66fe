// Package metrics exposes Prometheus instrumentation for the workflow
// service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	anthropicRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_anthropic_requests_total",
		Help: "Anthropic API requests by operation and status.",
	}, []string{"operation", "status"})

	anthropicDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bifrost_anthropic_request_duration_seconds",
		Help:    "Anthropic API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	anthropicTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_anthropic_tokens_total",
		Help: "Anthropic token usage by direction.",
	}, []string{"direction"})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_tool_calls_total",
		Help: "Platform tool calls by tool and status.",
	}, []string{"tool", "status"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bifrost_tool_call_duration_seconds",
		Help:    "Platform tool call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_runs_total",
		Help: "Workflow runs by terminal status.",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bifrost_run_duration_seconds",
		Help:    "End-to-end workflow run duration.",
		Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
	})

	runRetries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bifrost_run_retries",
		Help:    "Repair cycles taken per run.",
		Buckets: []float64{0, 1, 2, 3},
	})

	csvExports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bifrost_csv_exports_total",
		Help: "CSV exports written.",
	})
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordAnthropicRequest records one Anthropic API call.
func RecordAnthropicRequest(operation string, duration time.Duration, err error) {
	anthropicRequests.WithLabelValues(operation, status(err)).Inc()
	anthropicDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAnthropicTokens records token usage for a completed request.
func RecordAnthropicTokens(input, output int64) {
	anthropicTokens.WithLabelValues("input").Add(float64(input))
	anthropicTokens.WithLabelValues("output").Add(float64(output))
}

// RecordToolCall records one platform tool invocation.
func RecordToolCall(tool string, duration time.Duration, err error) {
	toolCalls.WithLabelValues(tool, status(err)).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordRun records a terminal workflow run.
func RecordRun(terminalStatus string, duration time.Duration, retries int) {
	runs.WithLabelValues(terminalStatus).Inc()
	runDuration.Observe(duration.Seconds())
	runRetries.Observe(float64(retries))
}

// RecordCSVExport records one export.
func RecordCSVExport() {
	csvExports.Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
