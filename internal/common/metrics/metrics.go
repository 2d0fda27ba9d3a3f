// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_requests_total",
			Help: "Total number of ingest requests by flow and outcome",
		},
		[]string{"flow", "outcome"},
	)

	EnvelopesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_envelopes_published_total",
			Help: "Total number of envelopes published to the queue",
		},
		[]string{"flow"},
	)

	PipelineInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_invocations_total",
			Help: "Total number of worker invocations by flow and status",
		},
		[]string{"flow", "status"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_invocation_duration_seconds",
			Help: "Duration of one worker invocation in seconds",
		},
		[]string{"flow"},
	)

	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_calls_total",
			Help: "Total number of model completion calls by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	CallbackDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callback_deliveries_total",
			Help: "Total number of callback delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	SinkWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_write_failures_total",
			Help: "Total number of best-effort sink write failures by destination",
		},
		[]string{"destination"},
	)
)
