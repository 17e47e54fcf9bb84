package processor

import (
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Register adds the builtin processors to the registry.
func Register(registry *plugin.Registry) error {
	regs := []*plugin.Registration{
		{
			Kind:        stage.KindProcessor,
			Name:        "passthrough",
			Factory:     NewPassthrough,
			Description: "forwards records unchanged",
			Prototype:   &Passthrough{},
		},
		{
			Kind:        stage.KindProcessor,
			Name:        "lowpass",
			Factory:     NewLowpass,
			Description: "single-pole IIR low-pass filter per channel",
			Prototype:   &Lowpass{},
		},
		{
			Kind:        stage.KindProcessor,
			Name:        "scale",
			Factory:     NewScale,
			Description: "per-channel gain and offset",
			Prototype:   &Scale{},
		},
	}
	for _, r := range regs {
		if err := registry.Register(r); err != nil {
			return err
		}
	}
	return nil
}
