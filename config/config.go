// Package config loads and validates the YAML configuration that describes
// the engine and its pipelines.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sensorpipe/sensorpipe/errors"
)

// Duration wraps time.Duration with YAML support for both Go duration
// strings ("500ms") and plain numbers of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StageSpec selects a plugin by type name and carries its raw
// configuration section, handed to the factory unparsed.
type StageSpec struct {
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config,omitempty"`
}

// PipelineConfig describes one pipeline graph. Reader and Decoder are
// mandatory; every other stage list may be empty.
type PipelineConfig struct {
	ID           string   `yaml:"id"`
	Enabled      bool     `yaml:"enabled"`
	UseThreading *bool    `yaml:"use_threading,omitempty"` // nil means true
	QueueSize    int      `yaml:"queue_size,omitempty"`
	StopTimeout  Duration `yaml:"stop_timeout,omitempty"`
	PushTimeout  Duration `yaml:"push_timeout,omitempty"`

	Reader        StageSpec   `yaml:"reader"`
	Decoder       StageSpec   `yaml:"decoder"`
	Processors    []StageSpec `yaml:"processors,omitempty"`
	Analyzers     []StageSpec `yaml:"analyzers,omitempty"`
	Visualizers   []StageSpec `yaml:"visualizers,omitempty"`
	Writer        *StageSpec  `yaml:"writer,omitempty"`
	Exporters     []StageSpec `yaml:"exporters,omitempty"`
	Configurators []StageSpec `yaml:"configurators,omitempty"`
}

// Concurrent reports whether the pipeline runs one goroutine per stage.
// Unset defaults to true; false selects the single-loop sequential mode.
func (p *PipelineConfig) Concurrent() bool {
	return p.UseThreading == nil || *p.UseThreading
}

// LoggingConfig controls process-wide log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}

// SystemConfig holds engine-level settings.
type SystemConfig struct {
	DataDir         string   `yaml:"data_dir,omitempty"`
	MetricsAddr     string   `yaml:"metrics_addr,omitempty"` // empty disables the listener
	MonitorInterval Duration `yaml:"monitor_interval,omitempty"`
	RetainRecords   int      `yaml:"retain_records,omitempty"` // per-pipeline export buffer
}

// Config is the root document.
type Config struct {
	Logging   LoggingConfig    `yaml:"logging,omitempty"`
	System    SystemConfig     `yaml:"system,omitempty"`
	Pipelines []PipelineConfig `yaml:"pipelines"`
}

// Defaults applied by Validate when fields are unset.
const (
	DefaultQueueSize       = 100
	DefaultStopTimeout     = 2 * time.Second
	DefaultPushTimeout     = 500 * time.Millisecond
	DefaultMonitorInterval = 5 * time.Second
	DefaultRetainRecords   = 1000
)

// Load reads, parses and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Load", "config file read")
	}
	return Parse(raw)
}

// Parse parses and validates YAML bytes.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "YAML decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the document and fills in defaults. Pipeline IDs must be
// unique; enabled pipelines must name a reader and a decoder type.
func (c *Config) Validate() error {
	if len(c.Pipelines) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: no pipelines defined", errors.ErrInvalidConfig),
			"Config", "Validate", "pipeline list validation")
	}

	seen := make(map[string]bool, len(c.Pipelines))
	for i := range c.Pipelines {
		p := &c.Pipelines[i]
		if p.ID == "" {
			p.ID = fmt.Sprintf("pipeline-%d", i)
		}
		if seen[p.ID] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate pipeline id %q", errors.ErrInvalidConfig, p.ID),
				"Config", "Validate", "pipeline id validation")
		}
		seen[p.ID] = true

		if err := p.validate(); err != nil {
			return err
		}
	}

	if c.System.MonitorInterval <= 0 {
		c.System.MonitorInterval = Duration(DefaultMonitorInterval)
	}
	if c.System.RetainRecords <= 0 {
		c.System.RetainRecords = DefaultRetainRecords
	}

	return nil
}

func (p *PipelineConfig) validate() error {
	if !p.Enabled {
		// Disabled pipelines are skipped entirely, including validation, so
		// half-written configs can stay in the file.
		return nil
	}

	if p.Reader.Type == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: pipeline %q: reader", errors.ErrMissingStage, p.ID),
			"Config", "Validate", "mandatory stage validation")
	}
	if p.Decoder.Type == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: pipeline %q: decoder", errors.ErrMissingStage, p.ID),
			"Config", "Validate", "mandatory stage validation")
	}

	for _, spec := range p.stageSpecs() {
		if spec.Type == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: pipeline %q: stage spec without type", errors.ErrInvalidConfig, p.ID),
				"Config", "Validate", "stage spec validation")
		}
	}

	if p.QueueSize <= 0 {
		p.QueueSize = DefaultQueueSize
	}
	if p.StopTimeout <= 0 {
		p.StopTimeout = Duration(DefaultStopTimeout)
	}
	if p.PushTimeout <= 0 {
		p.PushTimeout = Duration(DefaultPushTimeout)
	}

	return nil
}

func (p *PipelineConfig) stageSpecs() []StageSpec {
	specs := make([]StageSpec, 0, 8)
	specs = append(specs, p.Processors...)
	specs = append(specs, p.Analyzers...)
	specs = append(specs, p.Visualizers...)
	if p.Writer != nil {
		specs = append(specs, *p.Writer)
	}
	specs = append(specs, p.Exporters...)
	specs = append(specs, p.Configurators...)
	return specs
}

// Pipeline returns the config for a pipeline ID, or nil.
func (c *Config) Pipeline(id string) *PipelineConfig {
	for i := range c.Pipelines {
		if c.Pipelines[i].ID == id {
			return &c.Pipelines[i]
		}
	}
	return nil
}

// SafeConfig provides thread-safe snapshot access to a live configuration.
type SafeConfig struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSafeConfig wraps a validated config.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{cfg: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cfg.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SafeConfig", "Update", "nil config check")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cfg = cfg
	return nil
}

// Clone deep-copies the config through YAML round-tripping.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := yaml.Unmarshal(raw, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}
