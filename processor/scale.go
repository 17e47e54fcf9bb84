package processor

import (
	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// ScaleConfig holds configuration for the scale processor.
type ScaleConfig struct {
	Gain   float64 `json:"gain"`
	Offset float64 `json:"offset"`
	// Channels restricts scaling to the named value channels; empty
	// scales every numeric channel.
	Channels []string `json:"channels"`
}

// Scale applies y = gain*x + offset per value channel. Typical uses are
// unit conversion and sensor calibration.
type Scale struct {
	cfg      ScaleConfig
	channels map[string]bool
}

// NewScale creates a scale processor from its configuration section.
func NewScale(config map[string]any, _ plugin.Deps) (any, error) {
	cfg := ScaleConfig{
		Gain:     stage.GetFloat64(config, "gain", 1.0),
		Offset:   stage.GetFloat64(config, "offset", 0.0),
		Channels: stage.GetStringSlice(config, "channels", nil),
	}

	p := &Scale{cfg: cfg}
	if len(cfg.Channels) > 0 {
		p.channels = make(map[string]bool, len(cfg.Channels))
		for _, ch := range cfg.Channels {
			p.channels[ch] = true
		}
	}
	return p, nil
}

// Process scales the record's value channels in place.
func (p *Scale) Process(rec *data.SensorData) ([]*data.SensorData, error) {
	for ch, x := range rec.Values {
		if p.channels != nil && !p.channels[ch] {
			continue
		}
		rec.Values[ch] = p.cfg.Gain*x + p.cfg.Offset
	}
	return []*data.SensorData{rec}, nil
}

var _ stage.Processor = (*Scale)(nil)
