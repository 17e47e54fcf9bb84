package writer

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// CSVConfig holds configuration for the CSV writer.
type CSVConfig struct {
	// Path is the output file. Empty writes records_<unix>.csv under the
	// data directory.
	Path string `json:"path"`
	// FlushEvery flushes the underlying writer after this many records.
	FlushEvery int `json:"flush_every"`
}

// Validate checks the configuration for errors.
func (c *CSVConfig) Validate() error {
	if c.FlushEvery < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "CSVConfig", "Validate", "flush_every must be positive")
	}
	return nil
}

// CSV appends records to a CSV file. The column set is fixed from the
// first record's sorted channel names; later records with extra channels
// log a warning and write only the known columns.
type CSV struct {
	cfg     CSVConfig
	logger  *slog.Logger
	dataDir string

	mu         sync.Mutex
	f          *os.File
	w          *csv.Writer
	columns    []string
	written    int64
	sinceFlush int
}

// NewCSV creates a CSV writer from its configuration section.
func NewCSV(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := CSVConfig{
		Path:       stage.GetString(config, "path", ""),
		FlushEvery: stage.GetInt(config, "flush_every", 100),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &CSV{
		cfg:     cfg,
		logger:  deps.Logger.With("component", "writer.csv"),
		dataDir: deps.DataDir,
	}, nil
}

// Open creates or truncates the output file. The header is deferred until
// the first record arrives because the column set depends on it.
func (w *CSV) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.cfg.Path
	if path == "" {
		path = filepath.Join(w.dataDir, fmt.Sprintf("records_%d.csv", os.Getpid()))
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "CSV", "Open", fmt.Sprintf("create %s (%v)", path, err))
	}
	w.f = f
	w.w = csv.NewWriter(f)
	w.columns = nil
	w.written = 0
	w.sinceFlush = 0
	w.logger.Info("csv writer opened", "path", path)
	return nil
}

// Write appends one record as a CSV row.
func (w *CSV) Write(rec *data.SensorData) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		return 0, errors.Wrap(errors.ErrStorageUnavailable, "CSV", "Write", "writer not open")
	}

	if w.columns == nil {
		chans := make([]string, 0, len(rec.Values))
		for ch := range rec.Values {
			chans = append(chans, ch)
		}
		sort.Strings(chans)
		w.columns = chans

		header := append([]string{"timestamp", "sensor_id", "data_type"}, chans...)
		if err := w.w.Write(header); err != nil {
			return 0, errors.WrapTransient(err, "CSV", "Write", "write header")
		}
	}

	row := make([]string, 0, len(w.columns)+3)
	row = append(row,
		strconv.FormatFloat(rec.Timestamp, 'f', 6, 64),
		rec.SensorID,
		rec.DataType,
	)
	for _, ch := range w.columns {
		v, ok := rec.Values[ch]
		if !ok {
			row = append(row, "")
			continue
		}
		row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
	}
	if len(rec.Values) > len(w.columns) {
		w.logger.Warn("record has channels outside the header, extras dropped",
			"sensor_id", rec.SensorID, "channels", len(rec.Values), "columns", len(w.columns))
	}

	if err := w.w.Write(row); err != nil {
		return 0, errors.WrapTransient(err, "CSV", "Write", "write row")
	}
	w.written++
	w.sinceFlush++
	if w.sinceFlush >= w.cfg.FlushEvery {
		w.w.Flush()
		w.sinceFlush = 0
		if err := w.w.Error(); err != nil {
			return 0, errors.WrapTransient(err, "CSV", "Write", "flush")
		}
	}
	return 1, nil
}

// Close flushes and closes the file. Safe to call when not open.
func (w *CSV) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		return nil
	}
	w.w.Flush()
	err := w.w.Error()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.w = nil
	w.f = nil
	if err != nil {
		return errors.WrapTransient(err, "CSV", "Close", "close")
	}
	return nil
}

// Status reports rows written.
func (w *CSV) Status() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]any{
		"written": w.written,
		"columns": len(w.columns),
	}
}

var (
	_ stage.Writer         = (*CSV)(nil)
	_ stage.StatusReporter = (*CSV)(nil)
)
