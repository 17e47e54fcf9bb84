package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// CSV exports a batch as a CSV artifact. The column set is the union of
// all channels in the batch, sorted, so sparse batches export cleanly.
type CSV struct {
	logger *slog.Logger
}

// NewCSV creates a CSV exporter.
func NewCSV(_ map[string]any, deps plugin.Deps) (any, error) {
	return &CSV{logger: deps.Logger.With("component", "exporter.csv")}, nil
}

// Export writes the batch to a uniquely named file under dest and returns
// its path.
func (e *CSV) Export(batch []*data.SensorData, dest string) (string, error) {
	if len(batch) == 0 {
		return "", errors.WrapInvalid(errors.ErrInvalidData, "CSV", "Export", "empty batch")
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", errors.WrapTransient(errors.ErrStorageUnavailable, "CSV", "Export", fmt.Sprintf("create %s (%v)", dest, err))
	}

	columns := channelUnion(batch)
	path := filepath.Join(dest, fmt.Sprintf("export_%s.csv", uuid.NewString()))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.WrapTransient(errors.ErrStorageUnavailable, "CSV", "Export", fmt.Sprintf("create %s (%v)", path, err))
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"timestamp", "sensor_id", "data_type"}, columns...)
	if err := w.Write(header); err != nil {
		return "", errors.WrapTransient(err, "CSV", "Export", "write header")
	}
	for _, rec := range batch {
		row := make([]string, 0, len(columns)+3)
		row = append(row,
			strconv.FormatFloat(rec.Timestamp, 'f', 6, 64),
			rec.SensorID,
			rec.DataType,
		)
		for _, ch := range columns {
			if v, ok := rec.Values[ch]; ok {
				row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			return "", errors.WrapTransient(err, "CSV", "Export", "write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.WrapTransient(err, "CSV", "Export", "flush")
	}

	e.logger.Info("batch exported", "path", path, "records", len(batch))
	return path, nil
}

func channelUnion(batch []*data.SensorData) []string {
	seen := make(map[string]bool)
	for _, rec := range batch {
		for ch := range rec.Values {
			seen[ch] = true
		}
	}
	columns := make([]string, 0, len(seen))
	for ch := range seen {
		columns = append(columns, ch)
	}
	sort.Strings(columns)
	return columns
}

var _ stage.Exporter = (*CSV)(nil)
