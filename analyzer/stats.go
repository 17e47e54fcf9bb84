package analyzer

import (
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// StatsConfig holds configuration for the stats analyzer.
type StatsConfig struct {
	// WindowSize is the number of samples per channel to aggregate over.
	WindowSize int `json:"window_size"`
	// EmitEvery controls how often a summary record is emitted, counted
	// in input records. Defaults to the window size.
	EmitEvery int `json:"emit_every"`
	// Channels restricts aggregation to the named channels; empty
	// aggregates every numeric channel.
	Channels []string `json:"channels"`
}

// Validate checks the configuration for errors.
func (c *StatsConfig) Validate() error {
	if c.WindowSize < 2 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StatsConfig", "Validate", "window_size must be at least 2")
	}
	if c.EmitEvery < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StatsConfig", "Validate", "emit_every must be positive")
	}
	return nil
}

// Stats maintains a sliding window per (sensor, channel) and periodically
// emits a summary record carrying mean, stddev, min, and max per channel.
type Stats struct {
	cfg      StatsConfig
	logger   *slog.Logger
	channels map[string]bool

	mu      sync.Mutex
	windows map[string][]float64
	count   map[string]int // input records per sensor since last emit
	emitted int64
}

// NewStats creates a stats analyzer from its configuration section.
func NewStats(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := StatsConfig{
		WindowSize: stage.GetInt(config, "window_size", 50),
		EmitEvery:  stage.GetInt(config, "emit_every", 0),
		Channels:   stage.GetStringSlice(config, "channels", nil),
	}
	if cfg.EmitEvery == 0 {
		cfg.EmitEvery = cfg.WindowSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Stats{
		cfg:     cfg,
		logger:  deps.Logger.With("component", "analyzer.stats"),
		windows: make(map[string][]float64),
		count:   make(map[string]int),
	}
	if len(cfg.Channels) > 0 {
		a.channels = make(map[string]bool, len(cfg.Channels))
		for _, ch := range cfg.Channels {
			a.channels[ch] = true
		}
	}
	return a, nil
}

// Analyze folds the record into the per-channel windows and emits a
// summary record once enough samples have accumulated.
func (a *Stats) Analyze(rec *data.SensorData) ([]*data.SensorData, error) {
	if rec.IsAnalysis() {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tracked := make([]string, 0, len(rec.Values))
	for ch, v := range rec.Values {
		if a.channels != nil && !a.channels[ch] {
			continue
		}
		key := rec.SensorID + "/" + ch
		w := append(a.windows[key], v)
		if len(w) > a.cfg.WindowSize {
			w = w[len(w)-a.cfg.WindowSize:]
		}
		a.windows[key] = w
		tracked = append(tracked, ch)
	}
	if len(tracked) == 0 {
		return nil, nil
	}

	a.count[rec.SensorID]++
	if a.count[rec.SensorID] < a.cfg.EmitEvery {
		return nil, nil
	}
	a.count[rec.SensorID] = 0

	result := data.NewAnalysisResult(rec)
	for _, ch := range tracked {
		w := a.windows[rec.SensorID+"/"+ch]
		if len(w) < 2 {
			continue
		}
		result.Results[ch+"_mean"] = stat.Mean(w, nil)
		result.Results[ch+"_stddev"] = stat.StdDev(w, nil)
		lo, hi := w[0], w[0]
		for _, v := range w[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		result.Results[ch+"_min"] = lo
		result.Results[ch+"_max"] = hi
	}
	if len(result.Results) == 0 {
		return nil, nil
	}
	result.Metadata["window_size"] = a.cfg.WindowSize
	a.emitted++

	return []*data.SensorData{result.AsRecord("stats")}, nil
}

// Status reports window occupancy and emitted summaries.
func (a *Stats) Status() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]any{
		"windows": len(a.windows),
		"emitted": a.emitted,
	}
}

var (
	_ stage.Analyzer       = (*Stats)(nil)
	_ stage.StatusReporter = (*Stats)(nil)
)
