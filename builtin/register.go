// Package builtin wires every builtin stage package into a plugin
// registry. Applications that want the full catalog call Register once at
// startup; embedders can instead call the individual package Register
// functions to curate a smaller set.
package builtin

import (
	"fmt"

	"github.com/sensorpipe/sensorpipe/analyzer"
	"github.com/sensorpipe/sensorpipe/configurator"
	"github.com/sensorpipe/sensorpipe/decoder"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/exporter"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/processor"
	"github.com/sensorpipe/sensorpipe/reader"
	"github.com/sensorpipe/sensorpipe/visualizer"
	"github.com/sensorpipe/sensorpipe/writer"
)

// Register adds all builtin stages to the registry.
func Register(registry *plugin.Registry) error {
	if registry == nil {
		return errors.WrapFatal(errors.ErrInvalidConfig, "builtin", "Register", "registry must not be nil")
	}

	steps := []struct {
		name string
		fn   func(*plugin.Registry) error
	}{
		{"reader", reader.Register},
		{"decoder", decoder.Register},
		{"processor", processor.Register},
		{"analyzer", analyzer.Register},
		{"visualizer", visualizer.Register},
		{"writer", writer.Register},
		{"exporter", exporter.Register},
		{"configurator", configurator.Register},
	}
	for _, s := range steps {
		if err := s.fn(registry); err != nil {
			return errors.WrapFatal(err, "builtin", "Register", fmt.Sprintf("%s stage registration", s.name))
		}
	}
	return nil
}
