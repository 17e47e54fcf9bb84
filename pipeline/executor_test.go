package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorpipe/sensorpipe/config"
	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// logBuffer is a goroutine-safe sink for worker log output.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func bufLogger(buf *logBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// feedReader yields its chunks in order, then io.EOF. With loop set it
// cycles forever. Open rewinds so a restarted pipeline replays the feed.
type feedReader struct {
	mu       sync.Mutex
	chunks   [][]byte
	idx      int
	loop     bool
	interval time.Duration
	opens    int
	closes   int
}

func (r *feedReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idx = 0
	r.opens++
	return nil
}

func (r *feedReader) Read(ctx context.Context) ([]byte, error) {
	if r.interval > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.interval):
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx >= len(r.chunks) {
		if !r.loop {
			return nil, io.EOF
		}
		r.idx = 0
	}
	c := r.chunks[r.idx]
	r.idx++
	return c, nil
}

func (r *feedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

// seqDecoder parses each chunk as a decimal sequence number and emits one
// record carrying it in Values["seq"].
type seqDecoder struct {
	delay time.Duration
}

func (d *seqDecoder) Decode(raw []byte) ([]*data.SensorData, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	seq, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, err
	}
	rec := data.New("sensor-1", "test")
	rec.Values["seq"] = float64(seq)
	return []*data.SensorData{rec}, nil
}

type passProcessor struct{}

func (p *passProcessor) Process(rec *data.SensorData) ([]*data.SensorData, error) {
	return []*data.SensorData{rec}, nil
}

// panicProcessor panics on one sequence number and passes the rest through.
type panicProcessor struct {
	on float64
}

func (p *panicProcessor) Process(rec *data.SensorData) ([]*data.SensorData, error) {
	if rec.Values["seq"] == p.on {
		panic("poison record")
	}
	return []*data.SensorData{rec}, nil
}

// tagAnalyzer emits one result per input, tagged with the analyzer name.
type tagAnalyzer struct {
	tag   string
	delay time.Duration
}

func (a *tagAnalyzer) Analyze(rec *data.SensorData) ([]*data.SensorData, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	out := rec.Clone()
	out.Metadata["analyzer"] = a.tag
	return []*data.SensorData{out}, nil
}

type countVisualizer struct {
	n atomic.Int64
}

func (v *countVisualizer) Visualize(*data.SensorData) error {
	v.n.Add(1)
	return nil
}

// captureWriter records every written record.
type captureWriter struct {
	mu       sync.Mutex
	recs     []*data.SensorData
	delay    time.Duration
	failOpen bool
	opens    int
	closes   int
}

func (w *captureWriter) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOpen {
		return errors.ErrStorageUnavailable
	}
	w.opens++
	return nil
}

func (w *captureWriter) Write(rec *data.SensorData) (int, error) {
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recs = append(w.recs, rec)
	return 1, nil
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.recs)
}

func (w *captureWriter) records() []*data.SensorData {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*data.SensorData, len(w.recs))
	copy(out, w.recs)
	return out
}

func (w *captureWriter) seqs() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]float64, 0, len(w.recs))
	for _, rec := range w.recs {
		out = append(out, rec.Values["seq"])
	}
	return out
}

func (w *captureWriter) Status() map[string]any {
	return map[string]any{"written": w.count()}
}

// negateWriter rewrites each delivered record in place before storing it.
// Records handed to the writer belong to it, so this is legal.
type negateWriter struct {
	captureWriter
}

func (w *negateWriter) Write(rec *data.SensorData) (int, error) {
	rec.Values["seq"] = -rec.Values["seq"]
	return w.captureWriter.Write(rec)
}

// observeAnalyzer captures the channel values it sees without emitting
// any results.
type observeAnalyzer struct {
	mu   sync.Mutex
	seen []float64
}

func (a *observeAnalyzer) Analyze(rec *data.SensorData) ([]*data.SensorData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, rec.Values["seq"])
	return nil, nil
}

func (a *observeAnalyzer) values() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.seen))
	copy(out, a.seen)
	return out
}

func register(t *testing.T, reg *plugin.Registry, kind stage.Kind, name string, inst any) {
	t.Helper()
	require.NoError(t, reg.Register(&plugin.Registration{
		Kind:      kind,
		Name:      name,
		Factory:   func(map[string]any, plugin.Deps) (any, error) { return inst, nil },
		Prototype: inst,
	}))
}

func testConfig(id string) config.PipelineConfig {
	return config.PipelineConfig{
		ID:          id,
		Enabled:     true,
		QueueSize:   config.DefaultQueueSize,
		StopTimeout: config.Duration(config.DefaultStopTimeout),
		PushTimeout: config.Duration(config.DefaultPushTimeout),
		Reader:      config.StageSpec{Type: "feed"},
		Decoder:     config.StageSpec{Type: "seq"},
	}
}

func newTestExecutor(t *testing.T, cfg config.PipelineConfig, reg *plugin.Registry, logs *logBuffer) *Executor {
	t.Helper()
	e, err := NewExecutor(cfg, Deps{Registry: reg, Logger: bufLogger(logs)})
	require.NoError(t, err)
	return e
}

// waitDrained waits until every worker has finished on its own, which
// happens once the reader hits end of input and the end-of-stream markers
// have cascaded through the graph.
func waitDrained(t *testing.T, e *Executor) {
	t.Helper()
	require.Eventually(t, func() bool {
		workers := e.Status().Workers
		if len(workers) == 0 {
			return false
		}
		for _, alive := range workers {
			if alive {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)
}

func TestExecutorRoundTripPreservesOrder(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1"), []byte("2"), []byte("3")}}
	wr := &captureWriter{}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})
	register(t, reg, stage.KindProcessor, "pass", &passProcessor{})
	register(t, reg, stage.KindWriter, "capture", wr)

	cfg := testConfig("roundtrip")
	cfg.Processors = []config.StageSpec{{Type: "pass"}}
	cfg.Writer = &config.StageSpec{Type: "capture"}

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))

	waitDrained(t, e)
	assert.Equal(t, []float64{1, 2, 3}, wr.seqs())

	m := e.Metrics()
	assert.Equal(t, int64(3), m.ReadCount)
	assert.Equal(t, int64(3), m.DecodeCount)
	assert.Equal(t, int64(3), m.ProcessCount)
	assert.Equal(t, int64(3), m.WriteCount)
	assert.Empty(t, m.Errors)

	// Draining the input does not stop the pipeline by itself.
	assert.Equal(t, StateRunning, e.State())
	require.NoError(t, e.Stop())
	assert.Equal(t, StateStopped, e.State())
	assert.Equal(t, 1, rd.closes)
	assert.Equal(t, 1, wr.closes)
}

func TestExecutorStatusSurface(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1")}}
	wr := &captureWriter{}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})
	register(t, reg, stage.KindWriter, "capture", wr)

	cfg := testConfig("status")
	cfg.Writer = &config.StageSpec{Type: "capture"}

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))
	waitDrained(t, e)

	st := e.Status()
	assert.Equal(t, "status", st.ID)
	assert.Equal(t, "running", st.State)
	assert.True(t, st.Running)
	assert.False(t, st.Paused)
	assert.Contains(t, st.Queues, "reader->decoder")
	assert.Contains(t, st.Queues, "collect->writer")
	assert.Contains(t, st.Workers, "reader")
	assert.Contains(t, st.Workers, "decoder")
	assert.Contains(t, st.Workers, "writer")

	// The writer reports through its status hook.
	require.Contains(t, st.Components, "writer")
	assert.Equal(t, 1, st.Components["writer"]["written"])

	require.NoError(t, e.Stop())
}

func TestExecutorBackpressureCountsDrops(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1")}, loop: true}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{delay: 50 * time.Millisecond})

	cfg := testConfig("backpressure")
	cfg.QueueSize = 1
	cfg.PushTimeout = config.Duration(5 * time.Millisecond)

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool {
		return e.Status().Queues["reader->decoder"].Drops > 0
	}, 2*time.Second, 10*time.Millisecond)

	first := e.Status().Queues["reader->decoder"].Drops
	time.Sleep(50 * time.Millisecond)
	second := e.Status().Queues["reader->decoder"].Drops
	assert.GreaterOrEqual(t, second, first)
	assert.Contains(t, logs.String(), "queue full")

	require.NoError(t, e.Stop())
}

func TestExecutorStopIsIdempotent(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1")}, loop: true, interval: time.Millisecond}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})

	e := newTestExecutor(t, testConfig("idempotent"), reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.Stop())
	assert.Equal(t, StateStopped, e.State())
	require.NoError(t, e.Stop())
	assert.Equal(t, StateStopped, e.State())
	assert.Equal(t, 1, rd.closes)
}

func TestExecutorStopJoinsAllWorkers(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1")}, loop: true, interval: time.Millisecond}
	wr := &captureWriter{}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})
	register(t, reg, stage.KindAnalyzer, "tag", &tagAnalyzer{tag: "a"})
	register(t, reg, stage.KindWriter, "capture", wr)

	cfg := testConfig("shutdown")
	cfg.Analyzers = []config.StageSpec{{Type: "tag"}}
	cfg.Writer = &config.StageSpec{Type: "capture"}

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return wr.count() > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop())
	for name, alive := range e.Status().Workers {
		assert.False(t, alive, "worker %s still alive after stop", name)
	}
	assert.NotContains(t, logs.String(), "did not stop within timeout")
}

func TestExecutorStopTimeoutWarnsOnStuckWorker(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1")}, loop: true}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{delay: 300 * time.Millisecond})

	cfg := testConfig("stuck")
	cfg.StopTimeout = config.Duration(20 * time.Millisecond)

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, e.Stop())
	assert.Equal(t, StateStopped, e.State())
	assert.Contains(t, logs.String(), "did not stop within timeout")
}

func TestExecutorFanInDeliversAllResultsBeforeFinish(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1"), []byte("2"), []byte("3")}}
	wr := &captureWriter{}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})
	register(t, reg, stage.KindAnalyzer, "fast", &tagAnalyzer{tag: "fast"})
	register(t, reg, stage.KindAnalyzer, "slow", &tagAnalyzer{tag: "slow", delay: 20 * time.Millisecond})
	register(t, reg, stage.KindWriter, "capture", wr)

	cfg := testConfig("fanin")
	cfg.Analyzers = []config.StageSpec{{Type: "fast"}, {Type: "slow"}}
	cfg.Writer = &config.StageSpec{Type: "capture"}

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))

	// The merge point must wait for the slow analyzer's end-of-stream
	// marker: once the graph drains on its own, every original and every
	// analysis result has reached the writer.
	waitDrained(t, e)
	assert.Equal(t, 9, wr.count())

	tags := map[string]int{}
	for _, rec := range wr.records() {
		tag, _ := rec.Metadata["analyzer"].(string)
		tags[tag]++
	}
	assert.Equal(t, 3, tags[""], "originals")
	assert.Equal(t, 3, tags["fast"])
	assert.Equal(t, 3, tags["slow"])

	require.NoError(t, e.Stop())
}

// Analyzer copies must be taken before dispatch hands the original to the
// merged stream: from that push on, the record belongs to the downstream
// side, and a writer is free to mutate it.
func TestExecutorAnalyzerCopiesTakenBeforeHandoff(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	chunks := make([][]byte, 0, 50)
	for i := 1; i <= 50; i++ {
		chunks = append(chunks, []byte(strconv.Itoa(i)))
	}
	rd := &feedReader{chunks: chunks}
	an := &observeAnalyzer{}
	wr := &negateWriter{}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})
	register(t, reg, stage.KindAnalyzer, "observe", an)
	register(t, reg, stage.KindWriter, "negate", wr)

	cfg := testConfig("ownership")
	cfg.Analyzers = []config.StageSpec{{Type: "observe"}}
	cfg.Writer = &config.StageSpec{Type: "negate"}

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))
	waitDrained(t, e)

	seen := an.values()
	require.Len(t, seen, 50)
	for _, v := range seen {
		assert.Greater(t, v, 0.0, "analyzer saw a record the writer had already rewritten")
	}

	require.NoError(t, e.Stop())
}

func TestEdgeConsumerUnblocksAfterLostMarker(t *testing.T) {
	logs := &logBuffer{}
	q := newEdge[int]("lossy", 1, 1, time.Millisecond, bufLogger(logs))
	done := make(chan struct{})

	// Fill the buffer so the marker cannot land within its timeout.
	require.True(t, q.push(done, 7))
	q.pushEOS(time.Millisecond)
	assert.Contains(t, logs.String(), "marker delivery timed out")

	v, ok := q.pull(done)
	require.True(t, ok)
	assert.Equal(t, 7, v)

	// The marker count can never complete now; done must still unblock
	// the consumer.
	finished := make(chan struct{})
	var streamOpen bool
	go func() {
		_, streamOpen = q.pull(done)
		close(finished)
	}()
	close(done)
	select {
	case <-finished:
		assert.False(t, streamOpen)
	case <-time.After(time.Second):
		t.Fatal("consumer still blocked after done closed")
	}
}

func TestExecutorSetupFailsOnUnknownMandatoryStage(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1")}}
	register(t, reg, stage.KindReader, "feed", rd)

	cfg := testConfig("missing-decoder")
	cfg.Decoder = config.StageSpec{Type: "nope"}

	e := newTestExecutor(t, cfg, reg, logs)
	err := e.Setup()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPluginNotFound)
	assert.Equal(t, StateCreated, e.State())
	assert.Empty(t, e.Status().Workers)
}

func TestExecutorDegradesOnUnknownOptionalStage(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1"), []byte("2")}}
	wr := &captureWriter{}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})
	register(t, reg, stage.KindWriter, "capture", wr)

	cfg := testConfig("degraded")
	cfg.Analyzers = []config.StageSpec{{Type: "nope"}}
	cfg.Writer = &config.StageSpec{Type: "capture"}

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	assert.Contains(t, logs.String(), "running degraded")

	require.NoError(t, e.Start(context.Background()))
	waitDrained(t, e)
	assert.Equal(t, 2, wr.count())
	assert.NotContains(t, e.Status().Workers, "analyzer-0")
	require.NoError(t, e.Stop())
}

func TestExecutorDegradesOnWriterOpenFailure(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1")}}
	viz := &countVisualizer{}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})
	register(t, reg, stage.KindVisualizer, "count", viz)
	register(t, reg, stage.KindWriter, "capture", &captureWriter{failOpen: true})

	cfg := testConfig("writer-down")
	cfg.Visualizers = []config.StageSpec{{Type: "count"}}
	cfg.Writer = &config.StageSpec{Type: "capture"}

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))
	assert.Contains(t, logs.String(), "running degraded")
	assert.NotContains(t, e.Status().Workers, "writer")

	waitDrained(t, e)
	assert.Equal(t, int64(1), viz.n.Load())
	require.NoError(t, e.Stop())
}

func TestExecutorPauseSuspendsIngestion(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1")}, loop: true, interval: time.Millisecond}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})

	e := newTestExecutor(t, testConfig("pause"), reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return e.Metrics().ReadCount > 0 }, 2*time.Second, 5*time.Millisecond)

	e.Pause()
	assert.True(t, e.Status().Paused)
	time.Sleep(30 * time.Millisecond) // let the in-flight read settle
	before := e.Metrics().ReadCount
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, e.Metrics().ReadCount)

	e.Resume()
	assert.False(t, e.Status().Paused)
	require.Eventually(t, func() bool {
		return e.Metrics().ReadCount > before
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop())
}

func TestExecutorRestartAfterStop(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1"), []byte("2")}}
	wr := &captureWriter{}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})
	register(t, reg, stage.KindWriter, "capture", wr)

	cfg := testConfig("restart")
	cfg.Writer = &config.StageSpec{Type: "capture"}

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))
	waitDrained(t, e)
	require.NoError(t, e.Stop())
	assert.Equal(t, 2, wr.count())

	// Stopped pipelines may be set up and started again.
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))
	waitDrained(t, e)
	require.NoError(t, e.Stop())
	assert.Equal(t, 4, wr.count())
	assert.Equal(t, 2, rd.opens)
}

func TestExecutorSequentialMode(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1"), []byte("2"), []byte("3")}}
	wr := &captureWriter{}
	viz := &countVisualizer{}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})
	register(t, reg, stage.KindProcessor, "pass", &passProcessor{})
	register(t, reg, stage.KindAnalyzer, "tag", &tagAnalyzer{tag: "a"})
	register(t, reg, stage.KindVisualizer, "count", viz)
	register(t, reg, stage.KindWriter, "capture", wr)

	seq := false
	cfg := testConfig("sequential")
	cfg.UseThreading = &seq
	cfg.Processors = []config.StageSpec{{Type: "pass"}}
	cfg.Analyzers = []config.StageSpec{{Type: "tag"}}
	cfg.Visualizers = []config.StageSpec{{Type: "count"}}
	cfg.Writer = &config.StageSpec{Type: "capture"}

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))

	waitDrained(t, e)
	st := e.Status()
	assert.Len(t, st.Workers, 1)
	assert.Contains(t, st.Workers, "sequential")

	// Each record is written once as the original and once as the
	// analyzer's result, in record order.
	assert.Equal(t, []float64{1, 1, 2, 2, 3, 3}, wr.seqs())
	assert.Equal(t, int64(6), viz.n.Load())

	m := e.Metrics()
	assert.Equal(t, int64(3), m.ReadCount)
	assert.Equal(t, int64(3), m.ProcessCount)
	assert.Equal(t, int64(3), m.AnalyzeCount)
	assert.Equal(t, int64(6), m.WriteCount)

	require.NoError(t, e.Stop())
}

func TestExecutorPanicInStageIsIsolated(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1"), []byte("2"), []byte("3")}}
	wr := &captureWriter{}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})
	register(t, reg, stage.KindProcessor, "poison", &panicProcessor{on: 2})
	register(t, reg, stage.KindWriter, "capture", wr)

	cfg := testConfig("panic")
	cfg.Processors = []config.StageSpec{{Type: "poison"}}
	cfg.Writer = &config.StageSpec{Type: "capture"}

	e := newTestExecutor(t, cfg, reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))

	waitDrained(t, e)
	assert.Equal(t, []float64{1, 3}, wr.seqs())
	assert.GreaterOrEqual(t, e.Metrics().Errors["processor-0"], int64(1))

	require.NoError(t, e.Stop())
}

func TestExecutorStartRequiresSetup(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))

	e := newTestExecutor(t, testConfig("no-setup"), reg, logs)
	err := e.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSetupRequired)
	assert.Equal(t, StateCreated, e.State())
}

func TestExecutorStartWhileRunningIsNoOp(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1")}, loop: true, interval: time.Millisecond}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})

	e := newTestExecutor(t, testConfig("double-start"), reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateRunning, e.State())
	assert.Contains(t, logs.String(), "already running")
	assert.Equal(t, 1, rd.opens)

	require.NoError(t, e.Stop())
}

func TestExecutorSetupRejectedWhileRunning(t *testing.T) {
	logs := &logBuffer{}
	reg := plugin.NewRegistry(bufLogger(logs))
	rd := &feedReader{chunks: [][]byte{[]byte("1")}, loop: true, interval: time.Millisecond}
	register(t, reg, stage.KindReader, "feed", rd)
	register(t, reg, stage.KindDecoder, "seq", &seqDecoder{})

	e := newTestExecutor(t, testConfig("setup-running"), reg, logs)
	require.NoError(t, e.Setup())
	require.NoError(t, e.Start(context.Background()))

	require.Error(t, e.Setup())
	require.NoError(t, e.Stop())
}

func TestNewExecutorRequiresRegistry(t *testing.T) {
	_, err := NewExecutor(testConfig("x"), Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
