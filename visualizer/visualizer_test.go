package visualizer

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

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

func record(sensorID string, values map[string]float64) *data.SensorData {
	rec := data.New(sensorID, "test")
	for ch, v := range values {
		rec.Values[ch] = v
	}
	return rec
}

func TestConsoleRateLimitsPerSensor(t *testing.T) {
	buf := &logBuffer{}
	deps := plugin.Deps{Logger: slog.New(slog.NewTextHandler(buf, nil))}
	inst, err := NewConsole(map[string]any{"interval": "1s"}, deps)
	require.NoError(t, err)
	v := inst.(*Console)

	for i := 0; i < 5; i++ {
		require.NoError(t, v.Visualize(record("s1", map[string]float64{"x": float64(i)})))
	}
	// Different sensor gets its own window.
	require.NoError(t, v.Visualize(record("s2", map[string]float64{"x": 1})))

	st := v.Status()
	assert.Equal(t, int64(2), st["shown"])
	assert.Equal(t, int64(4), st["dropped"])
	assert.Equal(t, 2, strings.Count(buf.String(), "msg=sample"))
}

func TestConsoleAnalysisOnly(t *testing.T) {
	buf := &logBuffer{}
	deps := plugin.Deps{Logger: slog.New(slog.NewTextHandler(buf, nil))}
	inst, err := NewConsole(map[string]any{"interval": "0s", "analysis_only": true}, deps)
	require.NoError(t, err)
	v := inst.(*Console)

	require.NoError(t, v.Visualize(record("s1", map[string]float64{"x": 1})))

	analysis := record("s1", map[string]float64{"anomaly_score": 0.9})
	analysis.Metadata[data.MetaAnalysis] = true
	require.NoError(t, v.Visualize(analysis))

	out := buf.String()
	assert.NotContains(t, out, "msg=sample")
	assert.Contains(t, out, "msg=analysis")
}

func TestConsoleConfigValidation(t *testing.T) {
	deps := plugin.Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	_, err := NewConsole(map[string]any{"interval": "-1s"}, deps)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestChartRendersOnTeardown(t *testing.T) {
	dir := t.TempDir()
	deps := plugin.Deps{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		DataDir: dir,
	}
	inst, err := NewChart(map[string]any{"title": "Test Run"}, deps)
	require.NoError(t, err)
	v := inst.(*Chart)

	for i := 0; i < 10; i++ {
		rec := record("imu", map[string]float64{"accel_x": float64(i) * 0.1})
		rec.Timestamp = float64(i)
		require.NoError(t, v.Visualize(rec))
	}
	require.NoError(t, v.Teardown())

	st := v.Status()
	path, ok := st["rendered"].(string)
	require.True(t, ok)
	assert.Equal(t, dir, filepath.Dir(path))

	html, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Test Run")
	assert.Contains(t, string(html), "imu/accel_x")
}

func TestChartSkipsRenderWithoutSamples(t *testing.T) {
	dir := t.TempDir()
	deps := plugin.Deps{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		DataDir: dir,
	}
	inst, err := NewChart(nil, deps)
	require.NoError(t, err)
	v := inst.(*Chart)

	require.NoError(t, v.Teardown())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChartBoundsAccumulation(t *testing.T) {
	deps := plugin.Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	inst, err := NewChart(map[string]any{"max_points": 3}, deps)
	require.NoError(t, err)
	v := inst.(*Chart)

	for i := 0; i < 10; i++ {
		require.NoError(t, v.Visualize(record("s1", map[string]float64{"x": float64(i)})))
	}
	st := v.Status()
	assert.Equal(t, 3, st["points"])
}

func TestChartChannelFilter(t *testing.T) {
	deps := plugin.Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	inst, err := NewChart(map[string]any{"channels": []any{"x"}}, deps)
	require.NoError(t, err)
	v := inst.(*Chart)

	require.NoError(t, v.Visualize(record("s1", map[string]float64{"x": 1, "y": 2})))
	st := v.Status()
	assert.Equal(t, 1, st["series"])
}

func TestRegisterVisualizers(t *testing.T) {
	reg := plugin.NewRegistry(slog.Default())
	require.NoError(t, Register(reg))

	names, err := reg.ListAvailable(stage.KindVisualizer)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"console", "chart"}, names)
}

// Interval zero means every record prints.
func TestConsoleZeroIntervalShowsAll(t *testing.T) {
	buf := &logBuffer{}
	deps := plugin.Deps{Logger: slog.New(slog.NewTextHandler(buf, nil))}
	inst, err := NewConsole(map[string]any{"interval": "0s"}, deps)
	require.NoError(t, err)
	v := inst.(*Console)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, v.Visualize(record("s1", map[string]float64{"x": 1})))
	}
	require.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(3), v.Status()["shown"])
}
