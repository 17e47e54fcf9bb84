package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sensorpipe/sensorpipe/metric"
)

// engineMetrics holds Prometheus metrics for engine lifecycle operations.
type engineMetrics struct {
	starts  *prometheus.CounterVec // by pipeline_id and status
	stops   *prometheus.CounterVec
	exports *prometheus.CounterVec

	startDuration *prometheus.HistogramVec
	stopDuration  *prometheus.HistogramVec

	validationIssues *prometheus.CounterVec // by pipeline_id and severity
	activePipelines  prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics. A nil registry
// disables metrics.
func newEngineMetrics(registry *metric.Registry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &engineMetrics{
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorpipe",
			Subsystem: "engine",
			Name:      "pipeline_starts_total",
			Help:      "Total number of pipeline start operations",
		}, []string{"pipeline_id", "status"}),

		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorpipe",
			Subsystem: "engine",
			Name:      "pipeline_stops_total",
			Help:      "Total number of pipeline stop operations",
		}, []string{"pipeline_id", "status"}),

		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorpipe",
			Subsystem: "engine",
			Name:      "exports_total",
			Help:      "Total number of export operations",
		}, []string{"pipeline_id", "status"}),

		startDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sensorpipe",
			Subsystem: "engine",
			Name:      "start_duration_seconds",
			Help:      "Pipeline start duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}, []string{"pipeline_id"}),

		stopDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sensorpipe",
			Subsystem: "engine",
			Name:      "stop_duration_seconds",
			Help:      "Pipeline stop duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}, []string{"pipeline_id"}),

		validationIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorpipe",
			Subsystem: "engine",
			Name:      "validation_issues_total",
			Help:      "Total number of preflight validation findings",
		}, []string{"pipeline_id", "severity"}),

		activePipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorpipe",
			Subsystem: "engine",
			Name:      "active_pipelines",
			Help:      "Current number of running pipelines",
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"pipeline_starts":   m.starts,
		"pipeline_stops":    m.stops,
		"exports":           m.exports,
		"start_duration":    m.startDuration,
		"stop_duration":     m.stopDuration,
		"validation_issues": m.validationIssues,
		"active_pipelines":  m.activePipelines,
	} {
		if err := registry.RegisterCollector("engine", name, c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *engineMetrics) recordStart(pipelineID string, success bool, duration float64) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(pipelineID, status(success)).Inc()
	m.startDuration.WithLabelValues(pipelineID).Observe(duration)
	if success {
		m.activePipelines.Inc()
	}
}

func (m *engineMetrics) recordStop(pipelineID string, success bool, duration float64) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(pipelineID, status(success)).Inc()
	m.stopDuration.WithLabelValues(pipelineID).Observe(duration)
	if success {
		m.activePipelines.Dec()
	}
}

func (m *engineMetrics) recordExport(pipelineID string, success bool) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(pipelineID, status(success)).Inc()
}

func (m *engineMetrics) recordValidation(result *ValidationResult) {
	if m == nil || result == nil {
		return
	}
	for _, issue := range result.Errors {
		m.validationIssues.WithLabelValues(issue.PipelineID, "error").Inc()
	}
	for _, issue := range result.Warnings {
		m.validationIssues.WithLabelValues(issue.PipelineID, "warning").Inc()
	}
}
