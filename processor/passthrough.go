package processor

import (
	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Passthrough forwards records unchanged. Useful as a chain placeholder
// and in tests.
type Passthrough struct{}

// NewPassthrough creates a passthrough processor.
func NewPassthrough(map[string]any, plugin.Deps) (any, error) {
	return &Passthrough{}, nil
}

// Process returns the record unchanged.
func (p *Passthrough) Process(rec *data.SensorData) ([]*data.SensorData, error) {
	return []*data.SensorData{rec}, nil
}

var _ stage.Processor = (*Passthrough)(nil)
