package processor

import (
	"sync"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// LowpassConfig holds configuration for the low-pass filter.
type LowpassConfig struct {
	// Alpha is the smoothing factor in (0, 1]: 1 passes the signal
	// through, smaller values smooth harder.
	Alpha float64 `json:"alpha"`
	// Channels restricts filtering to the named value channels; empty
	// filters every numeric channel.
	Channels []string `json:"channels"`
}

// Validate checks the configuration for errors.
func (c *LowpassConfig) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "LowpassConfig", "Validate", "alpha must be in (0, 1]")
	}
	return nil
}

// Lowpass applies a single-pole IIR filter per value channel:
// y[n] = alpha*x[n] + (1-alpha)*y[n-1]. Filter state is keyed by
// (sensor_id, channel) so interleaved sensors do not bleed into each
// other.
type Lowpass struct {
	cfg      LowpassConfig
	channels map[string]bool

	mu    sync.Mutex
	state map[string]float64
}

// NewLowpass creates a low-pass processor from its configuration section.
func NewLowpass(config map[string]any, _ plugin.Deps) (any, error) {
	cfg := LowpassConfig{
		Alpha:    stage.GetFloat64(config, "alpha", 0.2),
		Channels: stage.GetStringSlice(config, "channels", nil),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Lowpass{cfg: cfg, state: make(map[string]float64)}
	if len(cfg.Channels) > 0 {
		p.channels = make(map[string]bool, len(cfg.Channels))
		for _, ch := range cfg.Channels {
			p.channels[ch] = true
		}
	}
	return p, nil
}

// Process filters the record's value channels in place.
func (p *Lowpass) Process(rec *data.SensorData) ([]*data.SensorData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for ch, x := range rec.Values {
		if p.channels != nil && !p.channels[ch] {
			continue
		}
		key := rec.SensorID + "/" + ch
		y, seen := p.state[key]
		if !seen {
			y = x
		} else {
			y = p.cfg.Alpha*x + (1-p.cfg.Alpha)*y
		}
		p.state[key] = y
		rec.Values[ch] = y
	}
	return []*data.SensorData{rec}, nil
}

var _ stage.Processor = (*Lowpass)(nil)
