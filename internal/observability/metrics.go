// Package observability provides Prometheus metrics and OpenTelemetry
// spans for the document pipeline, coherence engine, and sync server.
//
// InitMetrics registers the metrics with the default Prometheus registry;
// this module serves no /metrics route of its own. Spans are emitted
// around each document processed by the pipeline orchestrator.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "coheara"

// PipelineMetrics instruments the document processing pipeline (§4.D) and
// the model client (§4.A).
type PipelineMetrics struct {
	// DocumentsProcessedTotal counts completed process_file calls by
	// final pipeline_status (Ingested, Failed).
	DocumentsProcessedTotal *prometheus.CounterVec

	// PageStructuringDurationSeconds measures per-page structuring latency.
	PageStructuringDurationSeconds *prometheus.HistogramVec

	// ModelStreamTokensTotal counts tokens streamed from the model client.
	ModelStreamTokensTotal *prometheus.CounterVec

	// ModelStreamErrorsTotal counts streaming failures by kind.
	ModelStreamErrorsTotal *prometheus.CounterVec

	// CoherenceAlertsTotal counts alerts raised by detector name and severity.
	CoherenceAlertsTotal *prometheus.CounterVec

	// SafetyViolationsTotal counts safety-filter violations by category.
	SafetyViolationsTotal *prometheus.CounterVec

	// SyncRequestsTotal counts sync requests by outcome (no_change, delta).
	SyncRequestsTotal *prometheus.CounterVec
}

// DefaultMetrics is the process-wide metrics singleton, set by InitMetrics.
var DefaultMetrics *PipelineMetrics

// InitMetrics registers every metric against the default Prometheus
// registry. Must be called exactly once at startup; a second call panics
// on duplicate registration, matching promauto's own behavior.
func InitMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		DocumentsProcessedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:   "documents_processed_total",
			Help:   "Documents that completed process_file, by final pipeline status.",
		}, []string{"status"}),
		PageStructuringDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:   "page_structuring_duration_seconds",
			Help:   "Time to structure a single extracted page.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		ModelStreamTokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "modelclient",
			Name:   "stream_tokens_total",
			Help:   "Tokens received over streaming model-client calls.",
		}, []string{"role"}),
		ModelStreamErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "modelclient",
			Name:   "stream_errors_total",
			Help:   "Streaming model-client failures by kind.",
		}, []string{"kind"}),
		CoherenceAlertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "coherence",
			Name:   "alerts_total",
			Help:   "Alerts raised by the coherence engine, by detector and severity.",
		}, []string{"detector", "severity"}),
		SafetyViolationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "safety",
			Name:   "violations_total",
			Help:   "Safety filter violations by category.",
		}, []string{"category"}),
		SyncRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:   "requests_total",
			Help:   "Sync requests handled, by outcome.",
		}, []string{"outcome"}),
	}
	DefaultMetrics = m
	return m
}
