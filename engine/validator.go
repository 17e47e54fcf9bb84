package engine

import (
	"fmt"
	"log/slog"

	"github.com/sensorpipe/sensorpipe/config"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Issue is one preflight finding for a configured stage.
type Issue struct {
	PipelineID string `json:"pipeline_id"`
	Kind       string `json:"kind"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

// ValidationResult reports preflight findings. Errors block setup (a
// mandatory stage type cannot be resolved); warnings do not (the executor
// will degrade the optional stage at setup time).
type ValidationResult struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// OK reports whether the configuration can be set up.
func (r *ValidationResult) OK() bool { return len(r.Errors) == 0 }

// ValidationError wraps a failed preflight result.
type ValidationError struct {
	Result *ValidationResult
}

func (e *ValidationError) Error() string {
	if e.Result == nil {
		return "configuration validation failed"
	}
	return fmt.Sprintf("configuration validation failed: %d errors, %d warnings",
		len(e.Result.Errors), len(e.Result.Warnings))
}

// Validator resolves every configured stage type against the plugin
// registry before any executor is built.
type Validator struct {
	registry *plugin.Registry
	logger   *slog.Logger
}

// NewValidator creates a preflight validator.
func NewValidator(registry *plugin.Registry, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{registry: registry, logger: logger.With("component", "engine.Validator")}
}

// ValidateConfig checks that every stage type named by an enabled pipeline
// is registered. Disabled pipelines are skipped.
func (v *Validator) ValidateConfig(cfg *config.Config) *ValidationResult {
	result := &ValidationResult{}
	if cfg == nil {
		result.Errors = append(result.Errors, Issue{Message: "nil configuration"})
		return result
	}

	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		if !p.Enabled {
			continue
		}

		v.check(result, p.ID, stage.KindReader, p.Reader, true)
		v.check(result, p.ID, stage.KindDecoder, p.Decoder, true)
		for _, spec := range p.Processors {
			v.check(result, p.ID, stage.KindProcessor, spec, false)
		}
		for _, spec := range p.Analyzers {
			v.check(result, p.ID, stage.KindAnalyzer, spec, false)
		}
		for _, spec := range p.Visualizers {
			v.check(result, p.ID, stage.KindVisualizer, spec, false)
		}
		if p.Writer != nil {
			v.check(result, p.ID, stage.KindWriter, *p.Writer, false)
		}
		for _, spec := range p.Exporters {
			v.check(result, p.ID, stage.KindExporter, spec, false)
		}
		for _, spec := range p.Configurators {
			v.check(result, p.ID, stage.KindConfigurator, spec, false)
		}
	}
	return result
}

func (v *Validator) check(result *ValidationResult, pipelineID string, kind stage.Kind, spec config.StageSpec, mandatory bool) {
	if _, err := v.registry.Lookup(kind, spec.Type); err == nil {
		return
	}
	issue := Issue{
		PipelineID: pipelineID,
		Kind:       kind.String(),
		Type:       spec.Type,
		Message:    fmt.Sprintf("no registered %s plugin named %q", kind, spec.Type),
	}
	if mandatory {
		result.Errors = append(result.Errors, issue)
	} else {
		result.Warnings = append(result.Warnings, issue)
	}
}
