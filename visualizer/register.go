package visualizer

import (
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Register adds the builtin visualizers to the registry.
func Register(registry *plugin.Registry) error {
	regs := []*plugin.Registration{
		{
			Kind:        stage.KindVisualizer,
			Name:        "console",
			Factory:     NewConsole,
			Description: "rate-limited structured log output",
			Prototype:   &Console{},
		},
		{
			Kind:        stage.KindVisualizer,
			Name:        "chart",
			Factory:     NewChart,
			Description: "HTML line chart rendered on teardown",
			Prototype:   &Chart{},
		},
	}
	for _, r := range regs {
		if err := registry.Register(r); err != nil {
			return err
		}
	}
	return nil
}
