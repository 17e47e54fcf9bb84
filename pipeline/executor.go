// Package pipeline implements the stage-orchestration executor. An
// Executor resolves its stages through the plugin registry, wires them
// with bounded queues, and drives them either concurrently (one goroutine
// per stage) or sequentially (a single driving loop), with backpressure,
// an end-of-stream marker protocol, and bounded-join shutdown.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sensorpipe/sensorpipe/config"
	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/metric"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

func workerName(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

// pauseInterval is how long a paused reader sleeps between checks.
const pauseInterval = 10 * time.Millisecond

// readerRecovery is the backoff after a transient reader error.
const readerRecovery = 100 * time.Millisecond

// Deps carries executor dependencies.
type Deps struct {
	Registry *plugin.Registry
	Logger   *slog.Logger
	Metrics  *metric.Metrics // optional Prometheus core metrics

	// OnRecord, when set, receives a copy of every record that reaches the
	// merge point. The engine uses it to feed its export retention buffer.
	// It must not block.
	OnRecord func(*data.SensorData)
}

// namedStage pairs a resolved stage instance with its worker name for
// status reporting and teardown.
type namedStage struct {
	name string
	impl any
}

// worker tracks one goroutine's liveness for the status surface and the
// bounded join on stop.
type worker struct {
	name  string
	alive atomic.Bool
	done  chan struct{}
}

// Executor drives one pipeline.
type Executor struct {
	cfg      config.PipelineConfig
	registry *plugin.Registry
	logger   *slog.Logger
	prom     *metric.Metrics
	tap      func(*data.SensorData)

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	paused atomic.Bool

	reader      stage.Reader
	decoder     stage.Decoder
	processors  []stage.Processor
	analyzers   []stage.Analyzer
	visualizers []stage.Visualizer
	writer      stage.Writer
	stages      []namedStage

	metrics *counters
	edges   []edgeStat
	workers []*worker
}

// NewExecutor creates an executor in the created state. Stage resolution
// happens in Setup.
func NewExecutor(cfg config.PipelineConfig, deps Deps) (*Executor, error) {
	if deps.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Executor", "NewExecutor", "registry validation")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg,
		registry: deps.Registry,
		logger:   logger.With("component", "pipeline.Executor", "pipeline", cfg.ID),
		prom:     deps.Metrics,
		tap:      deps.OnRecord,
		state:    StateCreated,
		metrics:  newCounters(),
	}, nil
}

// ID returns the pipeline ID.
func (e *Executor) ID() string { return e.cfg.ID }

// State returns the current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Setup resolves every configured stage through the registry and prepares
// the executor to start. Mandatory stages (reader, decoder) fail fast; a
// failing optional stage is degraded to absent with one warning. Allowed
// from the created and stopped states.
func (e *Executor) Setup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCreated && e.state != StateStopped {
		return errors.WrapInvalid(
			fmt.Errorf("%w: setup not allowed in state %s", errors.ErrInvalidConfig, e.state),
			"Executor", "Setup", "state check")
	}

	rd, err := e.createTyped(stage.KindReader, e.cfg.Reader)
	if err != nil {
		return errors.WrapFatal(err, "Executor", "Setup", "mandatory reader resolution")
	}
	dec, err := e.createTyped(stage.KindDecoder, e.cfg.Decoder)
	if err != nil {
		return errors.WrapFatal(err, "Executor", "Setup", "mandatory decoder resolution")
	}

	e.reader = rd.(stage.Reader)
	e.decoder = dec.(stage.Decoder)
	e.processors = nil
	e.analyzers = nil
	e.visualizers = nil
	e.writer = nil
	e.stages = []namedStage{
		{name: "reader", impl: e.reader},
		{name: "decoder", impl: e.decoder},
	}
	e.metrics = newCounters()
	e.edges = nil
	e.workers = nil

	for _, spec := range e.cfg.Processors {
		inst, err := e.createTyped(stage.KindProcessor, spec)
		if err != nil {
			e.degrade(stage.KindProcessor, spec.Type, err)
			continue
		}
		e.processors = append(e.processors, inst.(stage.Processor))
		e.stages = append(e.stages, namedStage{name: workerName("processor", len(e.processors)-1), impl: inst})
	}
	for _, spec := range e.cfg.Analyzers {
		inst, err := e.createTyped(stage.KindAnalyzer, spec)
		if err != nil {
			e.degrade(stage.KindAnalyzer, spec.Type, err)
			continue
		}
		e.analyzers = append(e.analyzers, inst.(stage.Analyzer))
		e.stages = append(e.stages, namedStage{name: workerName("analyzer", len(e.analyzers)-1), impl: inst})
	}
	for _, spec := range e.cfg.Visualizers {
		inst, err := e.createTyped(stage.KindVisualizer, spec)
		if err != nil {
			e.degrade(stage.KindVisualizer, spec.Type, err)
			continue
		}
		e.visualizers = append(e.visualizers, inst.(stage.Visualizer))
		e.stages = append(e.stages, namedStage{name: workerName("visualizer", len(e.visualizers)-1), impl: inst})
	}
	if e.cfg.Writer != nil {
		inst, err := e.createTyped(stage.KindWriter, *e.cfg.Writer)
		if err != nil {
			e.degrade(stage.KindWriter, e.cfg.Writer.Type, err)
		} else {
			e.writer = inst.(stage.Writer)
			e.stages = append(e.stages, namedStage{name: "writer", impl: inst})
		}
	}

	e.setState(StateSetup)
	e.logger.Info("pipeline setup complete",
		"processors", len(e.processors),
		"analyzers", len(e.analyzers),
		"visualizers", len(e.visualizers),
		"writer", e.writer != nil,
		"concurrent", e.cfg.Concurrent())
	return nil
}

// createTyped creates a stage via the registry and verifies it satisfies
// the kind's contract.
func (e *Executor) createTyped(kind stage.Kind, spec config.StageSpec) (any, error) {
	inst, err := e.registry.Create(kind, spec.Type, spec.Config)
	if err != nil {
		return nil, err
	}
	if !stage.Conforms(kind, inst) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s/%s: instance does not satisfy %s contract",
				errors.ErrPluginLoad, kind, spec.Type, kind),
			"Executor", "Setup", "contract check")
	}
	return inst, nil
}

func (e *Executor) degrade(kind stage.Kind, typ string, err error) {
	e.logger.Warn("optional stage unavailable, running degraded",
		"kind", kind.String(),
		"type", typ,
		"error", err)
}

// Start opens the reader and writer and launches the workers. A warning
// no-op when already running; an error when Setup has not completed.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		e.logger.Warn("pipeline already running, start ignored")
		return nil
	case StateSetup:
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: state %s", errors.ErrSetupRequired, e.state),
			"Executor", "Start", "state check")
	}

	if err := e.reader.Open(); err != nil {
		e.teardownLocked()
		e.setState(StateStopped)
		return errors.WrapFatal(err, "Executor", "Start", "reader open")
	}
	if e.writer != nil {
		if err := e.writer.Open(); err != nil {
			e.degrade(stage.KindWriter, "", err)
			e.dropStage("writer")
			e.writer = nil
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.paused.Store(false)
	e.workers = nil
	e.edges = nil
	e.metrics.markStarted(time.Now())

	if e.cfg.Concurrent() {
		e.spawnConcurrent(runCtx)
	} else {
		e.spawn(runCtx, "sequential", func(done <-chan struct{}) {
			e.sequentialLoop(done)
		})
	}

	e.setState(StateRunning)
	e.logger.Info("pipeline started", "workers", len(e.workers))
	return nil
}

// Stop signals cancellation, waits for each worker up to the configured
// stop timeout, runs teardown hooks and closes the reader and writer.
// Calling Stop when not running is a warning no-op, and Stop is
// idempotent.
func (e *Executor) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.logger.Warn("stop ignored, pipeline not running", "state", e.state.String())
		e.mu.Unlock()
		return nil
	}
	e.setState(StateStopping)
	cancel := e.cancel
	workers := e.workers
	e.mu.Unlock()

	e.logger.Info("stopping pipeline")
	cancel()

	joinTimeout := e.cfg.StopTimeout.Std()
	for _, w := range workers {
		select {
		case <-w.done:
		case <-time.After(joinTimeout):
			e.logger.Warn("worker did not stop within timeout",
				"worker", w.name,
				"timeout", joinTimeout,
				"error", errors.ErrStopTimeout)
		}
	}

	e.mu.Lock()
	e.teardownLocked()
	e.setState(StateStopped)
	e.mu.Unlock()

	e.logger.Info("pipeline stopped")
	return nil
}

// Pause suspends ingestion of new data without tearing down workers.
// In-flight records drain normally.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning && !e.paused.Load() {
		e.paused.Store(true)
		e.logger.Info("pipeline paused")
	}
}

// Resume reverses Pause.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning && e.paused.Load() {
		e.paused.Store(false)
		e.logger.Info("pipeline resumed")
	}
}

// Metrics returns a snapshot of the pipeline counters.
func (e *Executor) Metrics() Metrics {
	return e.metrics.snapshot()
}

// Status returns the pollable status surface: state, metrics, per-stage
// status maps, queue depths and worker liveness.
func (e *Executor) Status() Status {
	e.mu.Lock()
	state := e.state
	stages := e.stages
	edges := e.edges
	workers := e.workers
	e.mu.Unlock()

	st := Status{
		ID:         e.cfg.ID,
		State:      state.String(),
		Running:    state == StateRunning,
		Paused:     e.paused.Load(),
		Metrics:    e.metrics.snapshot(),
		Components: make(map[string]map[string]any),
		Queues:     make(map[string]QueueStatus),
		Workers:    make(map[string]bool),
	}

	for _, ns := range stages {
		if sr, ok := ns.impl.(stage.StatusReporter); ok {
			st.Components[ns.name] = sr.Status()
		}
	}
	for _, q := range edges {
		st.Queues[q.Name()] = QueueStatus{Depth: q.Depth(), Capacity: q.Cap(), Drops: q.Drops()}
		if e.prom != nil {
			e.prom.RecordQueueDepth(e.cfg.ID, q.Name(), q.Depth())
		}
	}
	for _, w := range workers {
		st.Workers[w.name] = w.alive.Load()
	}
	return st
}

func (e *Executor) setState(s State) {
	e.state = s
	if e.prom != nil {
		e.prom.RecordPipelineState(e.cfg.ID, int(s))
	}
}

func (e *Executor) dropStage(name string) {
	for i, ns := range e.stages {
		if ns.name == name {
			e.stages = append(e.stages[:i], e.stages[i+1:]...)
			return
		}
	}
}

// teardownLocked closes the reader and writer and runs Teardown hooks,
// best effort in stage order. Errors are logged and never interrupt the
// remaining steps. Caller holds e.mu.
func (e *Executor) teardownLocked() {
	if e.reader != nil {
		if err := e.reader.Close(); err != nil {
			e.logger.Error("reader close failed", "error", err)
		}
	}
	for _, ns := range e.stages {
		if st, ok := ns.impl.(stage.SetupTeardown); ok {
			if err := st.Teardown(); err != nil {
				e.logger.Error("stage teardown failed", "stage", ns.name, "error", err)
			}
		}
	}
	if e.writer != nil {
		if err := e.writer.Close(); err != nil {
			e.logger.Error("writer close failed", "error", err)
		}
	}
}

// spawn launches a tracked worker goroutine. A panic that escapes the
// per-item guards kills only this worker, never the process.
func (e *Executor) spawn(ctx context.Context, name string, fn func(done <-chan struct{})) {
	w := &worker{name: name, done: make(chan struct{})}
	w.alive.Store(true)
	e.workers = append(e.workers, w)

	go func() {
		defer close(w.done)
		defer w.alive.Store(false)
		defer func() {
			if r := recover(); r != nil {
				e.metrics.countError(name)
				e.logger.Error("worker terminated by panic", "worker", name, "panic", r)
			}
		}()
		fn(ctx.Done())
	}()
}

// stageFailed is the single per-item error policy: log, count against the
// owning worker, continue with the next item. Returns true when err was
// non-nil.
func (e *Executor) stageFailed(workerName string, err error) bool {
	if err == nil {
		return false
	}
	e.metrics.countError(workerName)
	if e.prom != nil {
		e.prom.RecordStageError(e.cfg.ID, workerName)
	}
	e.logger.Error("stage error", "worker", workerName, "error", err)
	return true
}

// guard converts a stage panic into an error so one misbehaving stage
// never halts its siblings.
func guard[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return fn()
}

func (e *Executor) countStage(name string, ctr *atomic.Int64) {
	ctr.Add(1)
	if e.prom != nil {
		e.prom.RecordStageCount(e.cfg.ID, name)
	}
}

// spawnConcurrent builds the queue graph and launches one worker per
// stage instance plus the two fan-out dispatchers:
//
//	reader -> raw -> decoder -> chain of processors -> dispatch
//	dispatch -> one input edge per analyzer, plus the merged stream
//	analyzers -> merged stream (fan-in: dispatch + every analyzer)
//	collect -> one input edge per visualizer, plus the writer edge
func (e *Executor) spawnConcurrent(ctx context.Context) {
	qs := e.cfg.QueueSize
	pt := e.cfg.PushTimeout.Std()
	eosTimeout := e.cfg.StopTimeout.Std()

	track := func(q edgeStat) { e.edges = append(e.edges, q) }

	raw := newEdge[[]byte]("reader->decoder", qs, 1, pt, e.logger)
	track(raw)

	// Processor chain. With no processors the decoder feeds dispatch
	// directly.
	chainIn := newEdge[*data.SensorData]("decoder->chain", qs, 1, pt, e.logger)
	track(chainIn)
	cur := chainIn
	var procEdges []*edge[*data.SensorData]
	for i := range e.processors {
		out := newEdge[*data.SensorData](fmt.Sprintf("processor-%d->next", i), qs, 1, pt, e.logger)
		track(out)
		procEdges = append(procEdges, out)
		cur = out
	}
	dispatchIn := cur

	// Merged stream: dispatch forwards processor output, analyzers feed
	// their results back in. The collect worker must observe one marker
	// per producer before forwarding its own.
	stream := newEdge[*data.SensorData]("stream", qs, 1+len(e.analyzers), pt, e.logger)
	track(stream)

	var analyzerIns []*edge[*data.SensorData]
	for i := range e.analyzers {
		in := newEdge[*data.SensorData](fmt.Sprintf("dispatch->analyzer-%d", i), qs, 1, pt, e.logger)
		track(in)
		analyzerIns = append(analyzerIns, in)
	}

	var vizIns []*edge[*data.SensorData]
	for i := range e.visualizers {
		in := newEdge[*data.SensorData](fmt.Sprintf("collect->visualizer-%d", i), qs, 1, pt, e.logger)
		track(in)
		vizIns = append(vizIns, in)
	}
	var writeIn *edge[*data.SensorData]
	if e.writer != nil {
		writeIn = newEdge[*data.SensorData]("collect->writer", qs, 1, pt, e.logger)
		track(writeIn)
	}

	e.spawn(ctx, "reader", func(done <-chan struct{}) {
		defer raw.pushEOS(eosTimeout)
		e.readerLoop(done, raw)
	})

	e.spawn(ctx, "decoder", func(done <-chan struct{}) {
		defer chainIn.pushEOS(eosTimeout)
		e.decoderLoop(done, raw, chainIn)
	})

	for i, proc := range e.processors {
		in := chainIn
		if i > 0 {
			in = procEdges[i-1]
		}
		out := procEdges[i]
		name := workerName("processor", i)
		p := proc
		e.spawn(ctx, name, func(done <-chan struct{}) {
			defer out.pushEOS(eosTimeout)
			e.processorLoop(done, name, p, in, out)
		})
	}

	// Fan-out broadcast: each analyzer gets its own copy, the stream the
	// original. Pushing transfers ownership, so every clone must be taken
	// before the original leaves for the stream; no read of rec may follow
	// that push.
	e.spawn(ctx, "dispatch", func(done <-chan struct{}) {
		defer func() {
			stream.pushEOS(eosTimeout)
			for _, in := range analyzerIns {
				in.pushEOS(eosTimeout)
			}
		}()
		for {
			rec, ok := dispatchIn.pull(done)
			if !ok {
				return
			}
			for _, in := range analyzerIns {
				in.push(done, rec.Clone())
			}
			stream.push(done, rec)
		}
	})

	for i, an := range e.analyzers {
		name := workerName("analyzer", i)
		in := analyzerIns[i]
		a := an
		e.spawn(ctx, name, func(done <-chan struct{}) {
			defer stream.pushEOS(eosTimeout)
			e.analyzerLoop(done, name, a, in, stream)
		})
	}

	e.spawn(ctx, "collect", func(done <-chan struct{}) {
		defer func() {
			for _, in := range vizIns {
				in.pushEOS(eosTimeout)
			}
			if writeIn != nil {
				writeIn.pushEOS(eosTimeout)
			}
		}()
		for {
			rec, ok := stream.pull(done)
			if !ok {
				return
			}
			if e.tap != nil {
				e.tap(rec.Clone())
			}
			for _, in := range vizIns {
				in.push(done, rec.Clone())
			}
			if writeIn != nil {
				writeIn.push(done, rec)
			}
		}
	})

	for i, viz := range e.visualizers {
		name := workerName("visualizer", i)
		in := vizIns[i]
		v := viz
		e.spawn(ctx, name, func(done <-chan struct{}) {
			e.visualizerLoop(done, name, v, in)
		})
	}

	if e.writer != nil {
		e.spawn(ctx, "writer", func(done <-chan struct{}) {
			e.writerLoop(done, writeIn)
		})
	}
}

func (e *Executor) readerLoop(done <-chan struct{}, out *edge[[]byte]) {
	ctx := doneContext{done}
	for {
		select {
		case <-done:
			return
		default:
		}
		if e.paused.Load() {
			time.Sleep(pauseInterval)
			continue
		}

		chunk, err := guard(func() ([]byte, error) { return e.reader.Read(ctx) })
		if stderrors.Is(err, io.EOF) {
			e.logger.Info("reader exhausted, finishing")
			return
		}
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			e.stageFailed("reader", err)
			time.Sleep(readerRecovery)
			continue
		}
		if len(chunk) == 0 {
			continue
		}
		e.countStage("reader", &e.metrics.read)
		out.push(done, chunk)
	}
}

func (e *Executor) decoderLoop(done <-chan struct{}, in *edge[[]byte], out *edge[*data.SensorData]) {
	for {
		chunk, ok := in.pull(done)
		if !ok {
			return
		}
		recs, err := guard(func() ([]*data.SensorData, error) { return e.decoder.Decode(chunk) })
		if e.stageFailed("decoder", err) {
			continue
		}
		for _, rec := range recs {
			if rec == nil {
				continue
			}
			rec.Normalize()
			e.countStage("decoder", &e.metrics.decode)
			out.push(done, rec)
		}
	}
}

func (e *Executor) processorLoop(
	done <-chan struct{}, name string, p stage.Processor,
	in, out *edge[*data.SensorData],
) {
	for {
		rec, ok := in.pull(done)
		if !ok {
			return
		}
		results, err := guard(func() ([]*data.SensorData, error) { return p.Process(rec) })
		if e.stageFailed(name, err) {
			continue
		}
		e.countStage(name, &e.metrics.process)
		for _, res := range results {
			if res != nil {
				out.push(done, res)
			}
		}
	}
}

func (e *Executor) analyzerLoop(
	done <-chan struct{}, name string, a stage.Analyzer,
	in, out *edge[*data.SensorData],
) {
	for {
		rec, ok := in.pull(done)
		if !ok {
			return
		}
		results, err := guard(func() ([]*data.SensorData, error) { return a.Analyze(rec) })
		if e.stageFailed(name, err) {
			continue
		}
		e.countStage(name, &e.metrics.analyze)
		for _, res := range results {
			if res != nil {
				out.push(done, res)
			}
		}
	}
}

func (e *Executor) visualizerLoop(
	done <-chan struct{}, name string, v stage.Visualizer,
	in *edge[*data.SensorData],
) {
	for {
		rec, ok := in.pull(done)
		if !ok {
			return
		}
		_, err := guard(func() (struct{}, error) { return struct{}{}, v.Visualize(rec) })
		if e.stageFailed(name, err) {
			continue
		}
		e.countStage(name, &e.metrics.visualize)
	}
}

func (e *Executor) writerLoop(done <-chan struct{}, in *edge[*data.SensorData]) {
	for {
		rec, ok := in.pull(done)
		if !ok {
			return
		}
		_, err := guard(func() (int, error) { return e.writer.Write(rec) })
		if e.stageFailed("writer", err) {
			continue
		}
		e.countStage("writer", &e.metrics.write)
	}
}

// doneContext adapts a done channel to context.Context for the reader's
// blocking Read without allocating a context per iteration.
type doneContext struct {
	done <-chan struct{}
}

func (d doneContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (d doneContext) Done() <-chan struct{}       { return d.done }
func (d doneContext) Value(any) any               { return nil }
func (d doneContext) Err() error {
	select {
	case <-d.done:
		return context.Canceled
	default:
		return nil
	}
}
