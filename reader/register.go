package reader

import (
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Register adds the builtin readers to the registry.
func Register(registry *plugin.Registry) error {
	if err := registry.Register(&plugin.Registration{
		Kind:        stage.KindReader,
		Name:        "file",
		Factory:     NewFile,
		Description: "chunked reads from a recorded capture file",
		Prototype:   &File{},
	}); err != nil {
		return err
	}
	return registry.Register(&plugin.Registration{
		Kind:        stage.KindReader,
		Name:        "serial",
		Factory:     NewSerial,
		Description: "raw byte reads from a serial port",
		Prototype:   &Serial{},
	})
}
