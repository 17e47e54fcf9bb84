// Package metric manages Prometheus metrics for the engine: core pipeline
// metrics shared by every executor plus per-stage registrations.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core pipeline metrics, labeled by pipeline and
// stage. Executors update these alongside their own atomic snapshot
// counters.
type Metrics struct {
	PipelineState      *prometheus.GaugeVec
	RecordsTotal       *prometheus.CounterVec
	StageErrors        *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	QueueDrops         *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
}

// NewMetrics creates the core metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		PipelineState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sensorpipe",
				Subsystem: "pipeline",
				Name:      "state",
				Help:      "Pipeline state (0=created, 1=setup, 2=running, 3=stopping, 4=stopped)",
			},
			[]string{"pipeline"},
		),

		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorpipe",
				Subsystem: "stage",
				Name:      "records_total",
				Help:      "Records handled per stage",
			},
			[]string{"pipeline", "stage"},
		),

		StageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorpipe",
				Subsystem: "stage",
				Name:      "errors_total",
				Help:      "Errors caught at the stage worker boundary",
			},
			[]string{"pipeline", "stage"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sensorpipe",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Current number of records buffered on an edge",
			},
			[]string{"pipeline", "edge"},
		),

		QueueDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorpipe",
				Subsystem: "queue",
				Name:      "drops_total",
				Help:      "Records dropped after the bounded push timeout",
			},
			[]string{"pipeline", "edge"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sensorpipe",
				Subsystem: "stage",
				Name:      "duration_seconds",
				Help:      "Per-record stage processing duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pipeline", "stage"},
		),
	}
}

// RecordPipelineState updates the pipeline state gauge.
func (m *Metrics) RecordPipelineState(pipeline string, state int) {
	m.PipelineState.WithLabelValues(pipeline).Set(float64(state))
}

// RecordStageCount increments the per-stage record counter.
func (m *Metrics) RecordStageCount(pipeline, stage string) {
	m.RecordsTotal.WithLabelValues(pipeline, stage).Inc()
}

// RecordStageError increments the per-stage error counter.
func (m *Metrics) RecordStageError(pipeline, stage string) {
	m.StageErrors.WithLabelValues(pipeline, stage).Inc()
}

// RecordQueueDepth updates the depth gauge for an edge.
func (m *Metrics) RecordQueueDepth(pipeline, edge string, depth int) {
	m.QueueDepth.WithLabelValues(pipeline, edge).Set(float64(depth))
}

// RecordQueueDrop increments the drop counter for an edge.
func (m *Metrics) RecordQueueDrop(pipeline, edge string) {
	m.QueueDrops.WithLabelValues(pipeline, edge).Inc()
}

// RecordStageDuration records per-record processing time.
func (m *Metrics) RecordStageDuration(pipeline, stage string, d time.Duration) {
	m.ProcessingDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
}
