package visualizer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// ChartConfig holds configuration for the chart visualizer.
type ChartConfig struct {
	// Title is the chart title; defaults to "Sensor Data".
	Title string `json:"title"`
	// MaxPoints caps accumulated samples per channel; oldest drop first.
	MaxPoints int `json:"max_points"`
	// OutputPath overrides the artifact location. Empty writes
	// chart_<unix>.html under the data directory.
	OutputPath string `json:"output_path"`
	// Channels restricts the chart to the named channels; empty charts
	// every numeric channel.
	Channels []string `json:"channels"`
}

// Validate checks the configuration for errors.
func (c *ChartConfig) Validate() error {
	if c.MaxPoints < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ChartConfig", "Validate", "max_points must be positive")
	}
	return nil
}

type chartPoint struct {
	ts  float64
	val float64
}

// Chart accumulates samples in memory and renders an HTML line chart with
// go-echarts when the pipeline tears it down. Visualize only appends to a
// bounded buffer so it never blocks the data path.
type Chart struct {
	cfg     ChartConfig
	logger  *slog.Logger
	dataDir string

	mu       sync.Mutex
	series   map[string][]chartPoint
	rendered string
}

// NewChart creates a chart visualizer from its configuration section.
func NewChart(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := ChartConfig{
		Title:      stage.GetString(config, "title", "Sensor Data"),
		MaxPoints:  stage.GetInt(config, "max_points", 5000),
		OutputPath: stage.GetString(config, "output_path", ""),
		Channels:   stage.GetStringSlice(config, "channels", nil),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Chart{
		cfg:     cfg,
		logger:  deps.Logger.With("component", "visualizer.chart"),
		dataDir: deps.DataDir,
		series:  make(map[string][]chartPoint),
	}, nil
}

// Visualize appends the record's channels to the in-memory series.
func (v *Chart) Visualize(rec *data.SensorData) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for ch, val := range rec.Values {
		if len(v.cfg.Channels) > 0 && !contains(v.cfg.Channels, ch) {
			continue
		}
		key := rec.SensorID + "/" + ch
		s := append(v.series[key], chartPoint{ts: rec.Timestamp, val: val})
		if len(s) > v.cfg.MaxPoints {
			s = s[len(s)-v.cfg.MaxPoints:]
		}
		v.series[key] = s
	}
	return nil
}

// Setup is a no-op; it exists so teardown pairs with a lifecycle hook.
func (v *Chart) Setup() error { return nil }

// Teardown renders the accumulated series to an HTML file.
func (v *Chart) Teardown() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.series) == 0 {
		v.logger.Debug("no samples accumulated, skipping chart render")
		return nil
	}

	path := v.cfg.OutputPath
	if path == "" {
		path = filepath.Join(v.dataDir, fmt.Sprintf("chart_%d.html", time.Now().Unix()))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: v.cfg.Title, Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: v.cfg.Title, Subtitle: fmt.Sprintf("series=%d", len(v.series))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)"}),
	)

	keys := make([]string, 0, len(v.series))
	for k := range v.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Use the longest series to label the x axis.
	var longest []chartPoint
	for _, k := range keys {
		if len(v.series[k]) > len(longest) {
			longest = v.series[k]
		}
	}
	xs := make([]string, len(longest))
	for i, p := range longest {
		xs[i] = fmt.Sprintf("%.3f", p.ts)
	}
	line.SetXAxis(xs)

	for _, k := range keys {
		points := make([]opts.LineData, len(v.series[k]))
		for i, p := range v.series[k] {
			points[i] = opts.LineData{Value: p.val}
		}
		line.AddSeries(k, points)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.WrapTransient(err, "Chart", "Teardown", "create chart file")
	}
	defer f.Close()

	if err := line.Render(f); err != nil {
		return errors.WrapTransient(err, "Chart", "Teardown", "render chart")
	}
	v.rendered = path
	v.logger.Info("chart rendered", "path", path, "series", len(v.series))
	return nil
}

// Status reports accumulated series and the rendered artifact, if any.
func (v *Chart) Status() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()

	points := 0
	for _, s := range v.series {
		points += len(s)
	}
	st := map[string]any{
		"series": len(v.series),
		"points": points,
	}
	if v.rendered != "" {
		st["rendered"] = v.rendered
	}
	return st
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

var (
	_ stage.Visualizer     = (*Chart)(nil)
	_ stage.SetupTeardown  = (*Chart)(nil)
	_ stage.StatusReporter = (*Chart)(nil)
)
