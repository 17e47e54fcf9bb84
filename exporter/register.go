package exporter

import (
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Register adds the builtin exporters to the registry.
func Register(registry *plugin.Registry) error {
	regs := []*plugin.Registration{
		{
			Kind:        stage.KindExporter,
			Name:        "csv",
			Factory:     NewCSV,
			Description: "export retained records as a CSV artifact",
			Prototype:   &CSV{},
		},
		{
			Kind:        stage.KindExporter,
			Name:        "json",
			Factory:     NewJSON,
			Description: "export retained records as a JSON artifact",
			Prototype:   &JSON{},
		},
	}
	for _, r := range regs {
		if err := registry.Register(r); err != nil {
			return err
		}
	}
	return nil
}
