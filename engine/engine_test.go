package engine

import (
	"context"
	"io"
	"log/slog"
	"strconv"
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

type stubReader struct {
	mu     sync.Mutex
	chunks [][]byte
	idx    int
}

func (r *stubReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idx = 0
	return nil
}

func (r *stubReader) Read(context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx >= len(r.chunks) {
		return nil, io.EOF
	}
	c := r.chunks[r.idx]
	r.idx++
	return c, nil
}

func (r *stubReader) Close() error { return nil }

type stubDecoder struct{}

func (stubDecoder) Decode(raw []byte) ([]*data.SensorData, error) {
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return nil, err
	}
	rec := data.New("sensor-1", "test")
	rec.Values["v"] = v
	return []*data.SensorData{rec}, nil
}

type stubWriter struct {
	n atomic.Int64
}

func (w *stubWriter) Open() error { return nil }

func (w *stubWriter) Write(*data.SensorData) (int, error) {
	w.n.Add(1)
	return 1, nil
}

func (w *stubWriter) Close() error { return nil }

type stubExporter struct {
	mu      sync.Mutex
	batches [][]*data.SensorData
	fail    bool
}

func (e *stubExporter) Export(batch []*data.SensorData, dest string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return "", errors.ErrStorageUnavailable
	}
	e.batches = append(e.batches, batch)
	return dest + "/export.json", nil
}

type stubConfigurator struct {
	configures atomic.Int64
	resets     atomic.Int64
}

func (c *stubConfigurator) Configure() error {
	c.configures.Add(1)
	return nil
}

func (c *stubConfigurator) Reset() error {
	c.resets.Add(1)
	return nil
}

func stubRegistry(t *testing.T, rd *stubReader, wr *stubWriter, exp *stubExporter, conf *stubConfigurator) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry(slog.Default())
	add := func(kind stage.Kind, name string, inst any) {
		require.NoError(t, reg.Register(&plugin.Registration{
			Kind:      kind,
			Name:      name,
			Factory:   func(map[string]any, plugin.Deps) (any, error) { return inst, nil },
			Prototype: inst,
		}))
	}
	add(stage.KindReader, "stub", rd)
	add(stage.KindDecoder, "stub", stubDecoder{})
	add(stage.KindWriter, "stub", wr)
	add(stage.KindExporter, "json", exp)
	add(stage.KindConfigurator, "stub", conf)
	return reg
}

func stubConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		System: config.SystemConfig{RetainRecords: 10},
		Pipelines: []config.PipelineConfig{
			{
				ID:            "main",
				Enabled:       true,
				Reader:        config.StageSpec{Type: "stub"},
				Decoder:       config.StageSpec{Type: "stub"},
				Writer:        &config.StageSpec{Type: "stub"},
				Exporters:     []config.StageSpec{{Type: "json"}},
				Configurators: []config.StageSpec{{Type: "stub"}},
			},
			{
				ID:      "spare",
				Enabled: false,
				Reader:  config.StageSpec{Type: "does-not-exist"},
			},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func waitPipelineDrained(t *testing.T, e *Engine, id string) {
	t.Helper()
	exec := e.Executor(id)
	require.NotNil(t, exec)
	require.Eventually(t, func() bool {
		workers := exec.Status().Workers
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

func TestEngineLifecycleAndExport(t *testing.T) {
	rd := &stubReader{chunks: [][]byte{[]byte("1"), []byte("2"), []byte("3")}}
	wr := &stubWriter{}
	exp := &stubExporter{}
	conf := &stubConfigurator{}
	reg := stubRegistry(t, rd, wr, exp, conf)

	eng, err := New(stubConfig(t), Deps{Registry: reg, Logger: slog.Default()})
	require.NoError(t, err)

	require.NoError(t, eng.Setup())
	assert.Equal(t, int64(1), conf.configures.Load(), "configurator runs once at setup")
	assert.Nil(t, eng.Executor("spare"), "disabled pipeline is skipped")

	require.NoError(t, eng.Start(context.Background()))
	waitPipelineDrained(t, eng, "main")
	assert.Equal(t, int64(3), wr.n.Load())

	st := eng.Status()
	assert.True(t, st.Running)
	assert.Contains(t, st.Pipelines, "main")
	assert.Equal(t, 3, st.Retained["main"])

	path, err := eng.Export("main", "json", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, path, "export.json")
	require.Len(t, exp.batches, 1)
	assert.Len(t, exp.batches[0], 3)

	require.NoError(t, eng.Stop())
	assert.Equal(t, int64(1), conf.resets.Load(), "configurator reset at stop")
	assert.False(t, eng.Status().Running)

	// Stopping again is a no-op.
	require.NoError(t, eng.Stop())
}

func TestEngineSetupFailsPreflightOnUnknownMandatoryStage(t *testing.T) {
	reg := plugin.NewRegistry(slog.Default())
	cfg := &config.Config{
		Pipelines: []config.PipelineConfig{{
			ID:      "broken",
			Enabled: true,
			Reader:  config.StageSpec{Type: "missing"},
			Decoder: config.StageSpec{Type: "missing"},
		}},
	}
	require.NoError(t, cfg.Validate())

	eng, err := New(cfg, Deps{Registry: reg, Logger: slog.Default()})
	require.NoError(t, err)

	err = eng.Setup()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Result.Errors, 2)
	assert.Nil(t, eng.Executor("broken"))
}

func TestEngineSetupWarnsOnUnknownOptionalStage(t *testing.T) {
	rd := &stubReader{chunks: [][]byte{[]byte("1")}}
	reg := stubRegistry(t, rd, &stubWriter{}, &stubExporter{}, &stubConfigurator{})

	cfg := stubConfig(t)
	cfg.Pipelines[0].Analyzers = []config.StageSpec{{Type: "missing"}}
	eng, err := New(cfg, Deps{Registry: reg, Logger: slog.Default()})
	require.NoError(t, err)

	result := eng.Validate()
	assert.True(t, result.OK())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "analyzer", result.Warnings[0].Kind)

	require.NoError(t, eng.Setup())
}

func TestEngineExportErrors(t *testing.T) {
	rd := &stubReader{chunks: [][]byte{[]byte("1")}}
	reg := stubRegistry(t, rd, &stubWriter{}, &stubExporter{}, &stubConfigurator{})

	eng, err := New(stubConfig(t), Deps{Registry: reg, Logger: slog.Default()})
	require.NoError(t, err)
	require.NoError(t, eng.Setup())

	_, err = eng.Export("nope", "json", t.TempDir())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = eng.Export("main", "xml", t.TempDir())
	assert.ErrorIs(t, err, errors.ErrPluginNotFound)

	// Nothing has flowed yet, so the retention buffer is empty.
	_, err = eng.Export("main", "json", t.TempDir())
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestEngineStartRequiresSetup(t *testing.T) {
	reg := plugin.NewRegistry(slog.Default())
	cfg := stubConfig(t)

	// Registry is empty, but Start must fail on state before touching it.
	eng, err := New(cfg, Deps{Registry: reg, Logger: slog.Default()})
	require.NoError(t, err)

	err = eng.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSetupRequired)
}
