package configurator

import (
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Register adds the builtin configurators to the registry.
func Register(registry *plugin.Registry) error {
	return registry.Register(&plugin.Registration{
		Kind:        stage.KindConfigurator,
		Name:        "witmotion",
		Factory:     NewWitMotion,
		Description: "serial command sequence for WitMotion IMUs",
		Prototype:   &WitMotion{},
	})
}
