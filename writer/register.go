package writer

import (
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Register adds the builtin writers to the registry.
func Register(registry *plugin.Registry) error {
	regs := []*plugin.Registration{
		{
			Kind:        stage.KindWriter,
			Name:        "csv",
			Factory:     NewCSV,
			Description: "append records to a CSV file",
			Prototype:   &CSV{},
		},
		{
			Kind:        stage.KindWriter,
			Name:        "sqlite",
			Factory:     NewSQLite,
			Description: "persist records to a SQLite database",
			Prototype:   &SQLite{},
		},
	}
	for _, r := range regs {
		if err := registry.Register(r); err != nil {
			return err
		}
	}
	return nil
}
