package decoder

import (
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Register adds the builtin decoders to the registry.
func Register(registry *plugin.Registry) error {
	if err := registry.Register(&plugin.Registration{
		Kind:        stage.KindDecoder,
		Name:        "csv",
		Factory:     NewCSV,
		Description: "delimiter-separated text with optional header",
		Prototype:   &CSV{},
	}); err != nil {
		return err
	}
	return registry.Register(&plugin.Registration{
		Kind:        stage.KindDecoder,
		Name:        "witmotion",
		Factory:     NewWitMotion,
		Description: "WitMotion binary IMU framing",
		Prototype:   &WitMotion{},
	})
}
