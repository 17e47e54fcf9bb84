package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sensorpipe/sensorpipe/config"
	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/metric"
	"github.com/sensorpipe/sensorpipe/monitor"
	"github.com/sensorpipe/sensorpipe/pipeline"
	"github.com/sensorpipe/sensorpipe/pkg/buffer"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Deps carries engine dependencies. Registry is required; the rest are
// optional.
type Deps struct {
	Registry *plugin.Registry
	Logger   *slog.Logger
	Metrics  *metric.Registry
	Monitor  *monitor.Monitor
}

type namedConfigurator struct {
	name string
	impl stage.Configurator
}

// pipelineEntry bundles one executor with its retention buffer, exporters
// and configurators.
type pipelineEntry struct {
	exec          *pipeline.Executor
	retain        *buffer.Ring[*data.SensorData]
	exporters     map[string]stage.Exporter
	configurators []namedConfigurator
}

// Engine builds and drives one executor per enabled pipeline.
type Engine struct {
	cfg      *config.Config
	registry *plugin.Registry
	logger   *slog.Logger
	metrics  *engineMetrics
	core     *metric.Metrics
	mon      *monitor.Monitor

	mu        sync.Mutex
	order     []string
	pipelines map[string]*pipelineEntry
	setupDone bool
	running   bool
}

// New creates an engine from a validated configuration.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "New", "config validation")
	}
	if deps.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "New", "registry validation")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine.Engine")

	metrics, err := newEngineMetrics(deps.Metrics)
	if err != nil {
		logger.Error("engine metrics unavailable", "error", err)
		metrics = nil
	}
	var core *metric.Metrics
	if deps.Metrics != nil {
		core = deps.Metrics.CoreMetrics()
	}

	if cfg.System.DataDir != "" {
		deps.Registry.SetDataDir(cfg.System.DataDir)
	}

	return &Engine{
		cfg:       cfg,
		registry:  deps.Registry,
		logger:    logger,
		metrics:   metrics,
		core:      core,
		mon:       deps.Monitor,
		pipelines: make(map[string]*pipelineEntry),
	}, nil
}

// Validate runs the preflight check without building anything.
func (e *Engine) Validate() *ValidationResult {
	return NewValidator(e.registry, e.logger).ValidateConfig(e.cfg)
}

// Setup resolves every enabled pipeline. Preflight errors (an unresolvable
// mandatory stage) fail setup before any executor is built; warnings are
// logged and the affected optional stages degrade later. Configurators run
// once here, outside the data flow.
func (e *Engine) Setup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.WrapInvalid(errors.ErrAlreadyRunning, "Engine", "Setup", "state check")
	}

	result := NewValidator(e.registry, e.logger).ValidateConfig(e.cfg)
	e.metrics.recordValidation(result)
	for _, w := range result.Warnings {
		e.logger.Warn("preflight validation warning",
			"pipeline", w.PipelineID, "kind", w.Kind, "type", w.Type, "message", w.Message)
	}
	if !result.OK() {
		for _, issue := range result.Errors {
			e.logger.Error("preflight validation error",
				"pipeline", issue.PipelineID, "kind", issue.Kind, "type", issue.Type, "message", issue.Message)
		}
		return errors.WrapInvalid(&ValidationError{Result: result}, "Engine", "Setup", "preflight validation")
	}

	e.order = nil
	e.pipelines = make(map[string]*pipelineEntry)

	for i := range e.cfg.Pipelines {
		pcfg := e.cfg.Pipelines[i]
		if !pcfg.Enabled {
			e.logger.Info("skipping disabled pipeline", "pipeline", pcfg.ID)
			continue
		}

		entry := &pipelineEntry{
			retain:    buffer.NewRing[*data.SensorData](e.cfg.System.RetainRecords, buffer.WithOverflowPolicy[*data.SensorData](buffer.DropOldest)),
			exporters: make(map[string]stage.Exporter),
		}

		exec, err := pipeline.NewExecutor(pcfg, pipeline.Deps{
			Registry: e.registry,
			Logger:   e.logger,
			Metrics:  e.core,
			OnRecord: func(rec *data.SensorData) {
				_ = entry.retain.Push(rec)
			},
		})
		if err != nil {
			return errors.WrapFatal(err, "Engine", "Setup", fmt.Sprintf("pipeline %s construction", pcfg.ID))
		}
		if err := exec.Setup(); err != nil {
			return errors.WrapFatal(err, "Engine", "Setup", fmt.Sprintf("pipeline %s setup", pcfg.ID))
		}
		entry.exec = exec

		for _, spec := range pcfg.Exporters {
			inst, err := e.registry.Create(stage.KindExporter, spec.Type, spec.Config)
			if err != nil {
				e.logger.Warn("exporter unavailable", "pipeline", pcfg.ID, "type", spec.Type, "error", err)
				continue
			}
			exp, ok := inst.(stage.Exporter)
			if !ok {
				e.logger.Warn("exporter does not satisfy contract", "pipeline", pcfg.ID, "type", spec.Type)
				continue
			}
			entry.exporters[spec.Type] = exp
		}

		for _, spec := range pcfg.Configurators {
			inst, err := e.registry.Create(stage.KindConfigurator, spec.Type, spec.Config)
			if err != nil {
				e.logger.Warn("configurator unavailable", "pipeline", pcfg.ID, "type", spec.Type, "error", err)
				continue
			}
			conf, ok := inst.(stage.Configurator)
			if !ok {
				e.logger.Warn("configurator does not satisfy contract", "pipeline", pcfg.ID, "type", spec.Type)
				continue
			}
			if err := conf.Configure(); err != nil {
				e.logger.Warn("configurator failed", "pipeline", pcfg.ID, "type", spec.Type, "error", err)
				continue
			}
			entry.configurators = append(entry.configurators, namedConfigurator{name: spec.Type, impl: conf})
		}

		e.pipelines[pcfg.ID] = entry
		e.order = append(e.order, pcfg.ID)
	}

	e.setupDone = true
	e.logger.Info("engine setup complete", "pipelines", len(e.pipelines))
	return nil
}

// Start starts the monitor and every pipeline. On a pipeline start failure
// the already-started ones are stopped again.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.logger.Warn("engine already running, start ignored")
		return nil
	}
	if !e.setupDone {
		return errors.WrapInvalid(errors.ErrSetupRequired, "Engine", "Start", "state check")
	}

	if e.mon != nil {
		e.mon.Start(ctx)
	}

	var started []string
	for _, id := range e.order {
		entry := e.pipelines[id]
		begin := time.Now()
		err := entry.exec.Start(ctx)
		e.metrics.recordStart(id, err == nil, time.Since(begin).Seconds())
		if err != nil {
			e.logger.Error("pipeline start failed", "pipeline", id, "error", err)
			for _, sid := range started {
				if stopErr := e.pipelines[sid].exec.Stop(); stopErr != nil {
					e.logger.Error("rollback stop failed", "pipeline", sid, "error", stopErr)
				}
			}
			if e.mon != nil {
				e.mon.Stop()
			}
			return errors.WrapFatal(err, "Engine", "Start", fmt.Sprintf("pipeline %s start", id))
		}
		started = append(started, id)
	}

	e.running = true
	e.logger.Info("engine started", "pipelines", len(started))
	return nil
}

// Stop stops every pipeline, resets configurators and halts the monitor.
// It keeps going past individual failures and returns the first error.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		e.logger.Warn("engine not running, stop ignored")
		return nil
	}

	var firstErr error
	for _, id := range e.order {
		entry := e.pipelines[id]
		begin := time.Now()
		err := entry.exec.Stop()
		e.metrics.recordStop(id, err == nil, time.Since(begin).Seconds())
		if err != nil {
			e.logger.Error("pipeline stop failed", "pipeline", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		for _, conf := range entry.configurators {
			if err := conf.impl.Reset(); err != nil {
				e.logger.Warn("configurator reset failed", "pipeline", id, "configurator", conf.name, "error", err)
			}
		}
	}

	if e.mon != nil {
		e.mon.Stop()
	}

	e.running = false
	e.logger.Info("engine stopped")
	if firstErr != nil {
		return errors.Wrap(firstErr, "Engine", "Stop", "pipeline shutdown")
	}
	return nil
}

// Status is the engine's pollable surface.
type Status struct {
	Running   bool                       `json:"running"`
	Health    monitor.Status             `json:"health"`
	System    map[string]any             `json:"system,omitempty"`
	Pipelines map[string]pipeline.Status `json:"pipelines"`
	Retained  map[string]int             `json:"retained"`
}

// Status reports engine, pipeline and system state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	entries := make(map[string]*pipelineEntry, len(e.pipelines))
	for id, entry := range e.pipelines {
		entries[id] = entry
	}
	e.mu.Unlock()

	st := Status{
		Running:   running,
		Pipelines: make(map[string]pipeline.Status, len(entries)),
		Retained:  make(map[string]int, len(entries)),
	}

	var subs []monitor.Status
	for id, entry := range entries {
		ps := entry.exec.Status()
		st.Pipelines[id] = ps
		st.Retained[id] = entry.retain.Size()
		if running {
			if ps.Running {
				subs = append(subs, monitor.NewHealthy(id, "pipeline running"))
			} else {
				subs = append(subs, monitor.NewDegraded(id, "pipeline not running"))
			}
		}
	}
	if e.mon != nil {
		st.System = e.mon.Stats()
		subs = append(subs, e.mon.Health())
	}
	st.Health = monitor.Aggregate("engine", subs)
	return st
}

// Executor returns the executor for a pipeline ID, or nil.
func (e *Engine) Executor(id string) *pipeline.Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.pipelines[id]; ok {
		return entry.exec
	}
	return nil
}

// Export drains the pipeline's retention buffer through the exporter
// configured under the given format name and returns the artifact path.
func (e *Engine) Export(pipelineID, format, dest string) (string, error) {
	e.mu.Lock()
	entry, ok := e.pipelines[pipelineID]
	e.mu.Unlock()
	if !ok {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: unknown pipeline %q", errors.ErrInvalidConfig, pipelineID),
			"Engine", "Export", "pipeline lookup")
	}

	exporter, ok := entry.exporters[format]
	if !ok {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: no %q exporter configured for pipeline %q", errors.ErrPluginNotFound, format, pipelineID),
			"Engine", "Export", "exporter lookup")
	}

	batch := entry.retain.Snapshot()
	if len(batch) == 0 {
		e.metrics.recordExport(pipelineID, false)
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: no records retained for pipeline %q", errors.ErrInvalidData, pipelineID),
			"Engine", "Export", "retention check")
	}

	path, err := exporter.Export(batch, dest)
	e.metrics.recordExport(pipelineID, err == nil)
	if err != nil {
		return "", errors.WrapTransient(err, "Engine", "Export", fmt.Sprintf("%s export", format))
	}

	e.logger.Info("export complete", "pipeline", pipelineID, "format", format, "records", len(batch), "path", path)
	return path, nil
}
