package visualizer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// ConsoleConfig holds configuration for the console visualizer.
type ConsoleConfig struct {
	// Interval is the minimum time between printed records per sensor.
	// Records arriving faster are dropped, not queued.
	Interval time.Duration `json:"interval"`
	// AnalysisOnly suppresses raw measurements and prints only analyzer
	// output.
	AnalysisOnly bool `json:"analysis_only"`
}

// Validate checks the configuration for errors.
func (c *ConsoleConfig) Validate() error {
	if c.Interval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ConsoleConfig", "Validate", "interval must not be negative")
	}
	return nil
}

// Console logs records through the structured logger, rate limited per
// sensor so a fast stream does not flood the terminal.
type Console struct {
	cfg    ConsoleConfig
	logger *slog.Logger

	mu      sync.Mutex
	last    map[string]time.Time
	shown   int64
	dropped int64
}

// NewConsole creates a console visualizer from its configuration section.
func NewConsole(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := ConsoleConfig{
		Interval:     stage.GetDuration(config, "interval", time.Second),
		AnalysisOnly: stage.GetBool(config, "analysis_only", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Console{
		cfg:    cfg,
		logger: deps.Logger.With("component", "visualizer.console"),
		last:   make(map[string]time.Time),
	}, nil
}

// Visualize prints the record unless its sensor is inside the rate-limit
// window. Never blocks.
func (v *Console) Visualize(rec *data.SensorData) error {
	if v.cfg.AnalysisOnly && !rec.IsAnalysis() {
		return nil
	}

	v.mu.Lock()
	now := time.Now()
	if last, ok := v.last[rec.SensorID]; ok && now.Sub(last) < v.cfg.Interval {
		v.dropped++
		v.mu.Unlock()
		return nil
	}
	v.last[rec.SensorID] = now
	v.shown++
	v.mu.Unlock()

	attrs := []any{
		"sensor_id", rec.SensorID,
		"data_type", rec.DataType,
		"timestamp", rec.Timestamp,
	}
	for ch, val := range rec.Values {
		attrs = append(attrs, ch, val)
	}
	if rec.IsAnalysis() {
		v.logger.Info("analysis", attrs...)
	} else {
		v.logger.Info("sample", attrs...)
	}
	return nil
}

// Status reports shown and dropped counts.
func (v *Console) Status() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return map[string]any{
		"shown":   v.shown,
		"dropped": v.dropped,
	}
}

var (
	_ stage.Visualizer     = (*Console)(nil)
	_ stage.StatusReporter = (*Console)(nil)
)
