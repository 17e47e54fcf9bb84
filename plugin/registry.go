// Package plugin provides the stage registry. Stage implementations
// register a factory under a (kind, name) key; pipelines resolve and
// instantiate stages through the registry at setup time.
package plugin

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/stage"
)

// Deps carries the dependencies handed to every factory. Factories parse
// their own config and must not perform I/O; resource acquisition belongs
// in Open/Setup.
type Deps struct {
	Logger  *slog.Logger
	DataDir string // base directory for file-producing stages
}

// Factory creates a stage instance from its configuration section.
type Factory func(config map[string]any, deps Deps) (any, error)

// Registration holds a factory plus metadata for one (kind, name) key.
type Registration struct {
	Kind        stage.Kind
	Name        string
	Factory     Factory
	Description string
	Version     string

	// Prototype is a zero-value instance used for the structural
	// conformance check at registration time. Registrations whose
	// prototype does not satisfy the kind's contract are skipped.
	Prototype any
}

// Registry maps (kind, name) to stage factories. Reads dominate writes:
// registration happens once at startup, lookups on every pipeline setup.
type Registry struct {
	mu      sync.RWMutex
	entries map[stage.Kind]map[string]*Registration
	logger  *slog.Logger
	dataDir string
}

// NewRegistry creates an empty registry. A nil logger falls back to
// slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[stage.Kind]map[string]*Registration),
		logger:  logger.With("component", "plugin.Registry"),
	}
}

// SetDataDir sets the base directory passed to factories for stages that
// produce file artifacts.
func (r *Registry) SetDataDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataDir = dir
}

// Register adds a registration under its (kind, name) key.
//
// A registration whose prototype fails the structural conformance check is
// skipped with an INFO log and no error: discovery must keep going when one
// candidate does not fit. A duplicate key overwrites the earlier entry and
// logs a warning (last-registered-wins), never a silent replacement.
func (r *Registry) Register(reg *Registration) error {
	if reg == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "registration validation")
	}
	if reg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "plugin name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory validation")
	}
	if reg.Kind.String() == "unknown" {
		return errors.WrapInvalid(errors.ErrUnknownKind, "Registry", "Register", "kind validation")
	}

	if reg.Prototype != nil && !stage.Conforms(reg.Kind, reg.Prototype) {
		r.logger.Info("skipping plugin: does not satisfy kind contract",
			"kind", reg.Kind.String(),
			"name", reg.Name)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.entries[reg.Kind]
	if !ok {
		byName = make(map[string]*Registration)
		r.entries[reg.Kind] = byName
	}

	if _, exists := byName[reg.Name]; exists {
		r.logger.Warn("duplicate plugin registration, replacing earlier entry",
			"kind", reg.Kind.String(),
			"name", reg.Name)
	}
	byName[reg.Name] = reg

	return nil
}

// Lookup resolves a factory by (kind, name). When the exact name is not
// registered it retries once with the lower-cased conventional name before
// failing with ErrPluginNotFound.
func (r *Registry) Lookup(kind stage.Kind, name string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName := r.entries[kind]
	if reg, ok := byName[name]; ok {
		return reg, nil
	}
	if lower := strings.ToLower(name); lower != name {
		if reg, ok := byName[lower]; ok {
			return reg, nil
		}
	}

	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: %s/%s", errors.ErrPluginNotFound, kind, name),
		"Registry", "Lookup", "constructor lookup")
}

// Create resolves the factory for (kind, name), instantiates the stage and
// runs its Setup hook if it has one. Instantiation and setup failures are
// wrapped in ErrPluginLoad with the (kind, name) key and the cause; lookup
// failures keep ErrPluginNotFound so callers can tell the two apart.
func (r *Registry) Create(kind stage.Kind, name string, config map[string]any) (any, error) {
	reg, err := r.Lookup(kind, name)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	dataDir := r.dataDir
	r.mu.RUnlock()

	deps := Deps{
		Logger:  r.logger.With("stage", fmt.Sprintf("%s/%s", kind, reg.Name)),
		DataDir: dataDir,
	}

	inst, err := reg.Factory(config, deps)
	if err != nil {
		return nil, errors.Wrap(
			fmt.Errorf("%w: %s/%s: %w", errors.ErrPluginLoad, kind, name, err),
			"Registry", "Create", "factory execution")
	}
	if inst == nil {
		return nil, errors.Wrap(
			fmt.Errorf("%w: %s/%s: factory returned nil", errors.ErrPluginLoad, kind, name),
			"Registry", "Create", "factory execution")
	}

	if st, ok := inst.(stage.SetupTeardown); ok {
		if err := st.Setup(); err != nil {
			return nil, errors.Wrap(
				fmt.Errorf("%w: %s/%s: %w", errors.ErrPluginLoad, kind, name, err),
				"Registry", "Create", "stage setup")
		}
	}

	return inst, nil
}

// ListAvailable returns the registered names for a kind, unsorted. An
// invalid kind fails with ErrUnknownKind.
func (r *Registry) ListAvailable(kind stage.Kind) ([]string, error) {
	if kind.String() == "unknown" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d", errors.ErrUnknownKind, int(kind)),
			"Registry", "ListAvailable", "kind validation")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	byName := r.entries[kind]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	return names, nil
}

// Describe returns registration metadata for every entry, keyed
// "kind/name". Factories and prototypes are not included.
func (r *Registry) Describe() map[string]Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Registration)
	for kind, byName := range r.entries {
		for name, reg := range byName {
			out[fmt.Sprintf("%s/%s", kind, name)] = Registration{
				Kind:        reg.Kind,
				Name:        reg.Name,
				Description: reg.Description,
				Version:     reg.Version,
			}
		}
	}
	return out
}
