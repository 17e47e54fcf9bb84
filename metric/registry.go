package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sensorpipe/sensorpipe/errors"
)

// Registry manages the registration and lifecycle of metrics. It owns a
// private prometheus.Registry so tests and multiple engines never collide
// on the global default.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a metrics registry with the core pipeline metrics and
// Go runtime collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	r.Metrics = NewMetrics()
	r.prometheusRegistry.MustRegister(
		r.Metrics.PipelineState,
		r.Metrics.RecordsTotal,
		r.Metrics.StageErrors,
		r.Metrics.QueueDepth,
		r.Metrics.QueueDrops,
		r.Metrics.ProcessingDuration,
	)

	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the shared pipeline metrics.
func (r *Registry) CoreMetrics() *Metrics {
	return r.Metrics
}

// RegisterCollector registers an owner-scoped collector. Stage
// implementations use this for metrics beyond the core set; the owner/name
// key keeps registrations unique and removable.
func (r *Registry) RegisterCollector(owner, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", owner, name)

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", name, owner),
			"MetricRegistry", "RegisterCollector", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricRegistry", "RegisterCollector",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "MetricRegistry", "RegisterCollector",
			"prometheus registration")
	}

	r.registeredMetrics[key] = c
	return nil
}

// Unregister removes an owner-scoped collector.
func (r *Registry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", owner, name)

	c, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	ok := r.prometheusRegistry.Unregister(c)
	if ok {
		delete(r.registeredMetrics, key)
	}
	return ok
}
