package analyzer

import (
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Register adds the builtin analyzers to the registry.
func Register(registry *plugin.Registry) error {
	regs := []*plugin.Registration{
		{
			Kind:        stage.KindAnalyzer,
			Name:        "stats",
			Factory:     NewStats,
			Description: "windowed mean/stddev/min/max per channel",
			Prototype:   &Stats{},
		},
		{
			Kind:        stage.KindAnalyzer,
			Name:        "anomaly",
			Factory:     NewAnomaly,
			Description: "z-score anomaly detection against a sliding baseline",
			Prototype:   &Anomaly{},
		},
	}
	for _, r := range regs {
		if err := registry.Register(r); err != nil {
			return err
		}
	}
	return nil
}
