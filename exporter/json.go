package exporter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// JSONConfig holds configuration for the JSON exporter.
type JSONConfig struct {
	// Pretty indents the output for human consumption.
	Pretty bool `json:"pretty"`
}

// JSON exports a batch as a JSON array artifact.
type JSON struct {
	cfg    JSONConfig
	logger *slog.Logger
}

// NewJSON creates a JSON exporter from its configuration section.
func NewJSON(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := JSONConfig{
		Pretty: stage.GetBool(config, "pretty", true),
	}
	return &JSON{
		cfg:    cfg,
		logger: deps.Logger.With("component", "exporter.json"),
	}, nil
}

// Export writes the batch to a uniquely named file under dest and returns
// its path.
func (e *JSON) Export(batch []*data.SensorData, dest string) (string, error) {
	if len(batch) == 0 {
		return "", errors.WrapInvalid(errors.ErrInvalidData, "JSON", "Export", "empty batch")
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", errors.WrapTransient(errors.ErrStorageUnavailable, "JSON", "Export", fmt.Sprintf("create %s (%v)", dest, err))
	}

	path := filepath.Join(dest, fmt.Sprintf("export_%s.json", uuid.NewString()))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.WrapTransient(errors.ErrStorageUnavailable, "JSON", "Export", fmt.Sprintf("create %s (%v)", path, err))
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if e.cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(batch); err != nil {
		return "", errors.WrapTransient(err, "JSON", "Export", "encode batch")
	}

	e.logger.Info("batch exported", "path", path, "records", len(batch))
	return path, nil
}

var _ stage.Exporter = (*JSON)(nil)
