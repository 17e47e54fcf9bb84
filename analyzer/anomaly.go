package analyzer

import (
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// AnomalyConfig holds configuration for the anomaly detector.
type AnomalyConfig struct {
	// WindowSize is the number of baseline samples per channel.
	WindowSize int `json:"window_size"`
	// Threshold is the z-score above which a sample is anomalous.
	Threshold float64 `json:"threshold"`
	// MinSamples defers detection until a channel has this many samples.
	MinSamples int `json:"min_samples"`
	// Channels restricts detection to the named channels; empty watches
	// every numeric channel.
	Channels []string `json:"channels"`
}

// Validate checks the configuration for errors.
func (c *AnomalyConfig) Validate() error {
	if c.WindowSize < 2 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "AnomalyConfig", "Validate", "window_size must be at least 2")
	}
	if c.Threshold <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "AnomalyConfig", "Validate", "threshold must be positive")
	}
	if c.MinSamples < 2 || c.MinSamples > c.WindowSize {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "AnomalyConfig", "Validate", "min_samples must be in [2, window_size]")
	}
	return nil
}

// Anomaly flags samples whose z-score against a sliding per-channel
// baseline exceeds the configured threshold. One record can trigger on
// several channels; the emitted result carries the worst offender.
type Anomaly struct {
	cfg      AnomalyConfig
	logger   *slog.Logger
	channels map[string]bool

	mu        sync.Mutex
	baselines map[string][]float64
	detected  int64
}

// NewAnomaly creates an anomaly detector from its configuration section.
func NewAnomaly(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := AnomalyConfig{
		WindowSize: stage.GetInt(config, "window_size", 100),
		Threshold:  stage.GetFloat64(config, "threshold", 3.0),
		MinSamples: stage.GetInt(config, "min_samples", 10),
		Channels:   stage.GetStringSlice(config, "channels", nil),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Anomaly{
		cfg:       cfg,
		logger:    deps.Logger.With("component", "analyzer.anomaly"),
		baselines: make(map[string][]float64),
	}
	if len(cfg.Channels) > 0 {
		a.channels = make(map[string]bool, len(cfg.Channels))
		for _, ch := range cfg.Channels {
			a.channels[ch] = true
		}
	}
	return a, nil
}

// Analyze scores the record against the per-channel baselines. The sample
// joins its baseline after scoring so a burst of anomalies shifts the
// baseline gradually rather than instantly.
func (a *Anomaly) Analyze(rec *data.SensorData) ([]*data.SensorData, error) {
	if rec.IsAnalysis() {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		worstScore float64
		worstCh    string
		scores     = make(map[string]float64)
	)
	for ch, v := range rec.Values {
		if a.channels != nil && !a.channels[ch] {
			continue
		}
		key := rec.SensorID + "/" + ch
		base := a.baselines[key]
		if len(base) >= a.cfg.MinSamples {
			mean := stat.Mean(base, nil)
			sd := stat.StdDev(base, nil)
			if sd > 0 {
				z := math.Abs(v-mean) / sd
				if z >= a.cfg.Threshold {
					scores[ch+"_zscore"] = z
					if z > worstScore {
						worstScore = z
						worstCh = ch
					}
				}
			}
		}
		base = append(base, v)
		if len(base) > a.cfg.WindowSize {
			base = base[len(base)-a.cfg.WindowSize:]
		}
		a.baselines[key] = base
	}

	if worstCh == "" {
		return nil, nil
	}
	a.detected++

	result := data.NewAnalysisResult(rec)
	result.AnomalyScore = math.Min(1.0, worstScore/(2*a.cfg.Threshold))
	result.Prediction = "anomaly"
	result.Confidence = math.Min(1.0, worstScore/a.cfg.Threshold-1)
	for k, z := range scores {
		result.Results[k] = z
	}
	result.Metadata["channel"] = worstCh
	result.Metadata["threshold"] = a.cfg.Threshold

	a.logger.Debug("anomaly detected",
		"sensor_id", rec.SensorID, "channel", worstCh, "zscore", worstScore)

	return []*data.SensorData{result.AsRecord("anomaly")}, nil
}

// Status reports baseline occupancy and detections.
func (a *Anomaly) Status() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]any{
		"baselines": len(a.baselines),
		"detected":  a.detected,
	}
}

var (
	_ stage.Analyzer       = (*Anomaly)(nil)
	_ stage.StatusReporter = (*Anomaly)(nil)
)
