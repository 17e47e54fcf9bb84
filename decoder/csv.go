package decoder

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// CSVConfig holds configuration for the CSV decoder.
type CSVConfig struct {
	SensorID        string            `json:"sensor_id"`
	DataType        string            `json:"data_type"`
	Delimiter       string            `json:"delimiter"`
	Columns         []string          `json:"columns"`          // column names when the stream has no header
	TimestampColumn string            `json:"timestamp_column"` // consumed into the record timestamp
	SkipHeader      bool              `json:"skip_header"`      // read column names from the first line
	Units           map[string]string `json:"units"`
}

// DefaultCSVConfig returns the default CSV decoder configuration.
func DefaultCSVConfig() CSVConfig {
	return CSVConfig{
		SensorID:        "csv_sensor",
		DataType:        "csv",
		Delimiter:       ",",
		TimestampColumn: "timestamp",
	}
}

// CSV decodes delimiter-separated text into records. Reader chunks may
// split lines arbitrarily; the trailing fragment of each chunk is buffered
// until the rest arrives.
type CSV struct {
	cfg    CSVConfig
	logger *slog.Logger

	mu         sync.Mutex
	buffer     string
	header     []string
	haveHeader bool
	decoded    int64
	skipped    int64
}

// NewCSV creates a CSV decoder from its configuration section.
func NewCSV(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := DefaultCSVConfig()
	cfg.SensorID = stage.GetString(config, "sensor_id", cfg.SensorID)
	cfg.DataType = stage.GetString(config, "data_type", cfg.DataType)
	cfg.Delimiter = stage.GetString(config, "delimiter", cfg.Delimiter)
	cfg.Columns = stage.GetStringSlice(config, "columns", nil)
	cfg.TimestampColumn = stage.GetString(config, "timestamp_column", cfg.TimestampColumn)
	cfg.SkipHeader = stage.GetBool(config, "skip_header", false)
	if raw, ok := config["units"].(map[string]any); ok {
		cfg.Units = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				cfg.Units[k] = s
			}
		}
	}

	d := &CSV{cfg: cfg, logger: deps.Logger}
	if len(cfg.Columns) > 0 {
		d.header = append([]string(nil), cfg.Columns...)
		d.haveHeader = true
	}
	return d, nil
}

// Decode parses the complete lines in the chunk, buffering any trailing
// fragment. Malformed lines are skipped with a warning, never an error.
func (d *CSV) Decode(raw []byte) ([]*data.SensorData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buffer += string(raw)
	lines := strings.Split(d.buffer, "\n")
	d.buffer = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	if d.cfg.SkipHeader && !d.haveHeader && len(lines) > 0 {
		d.header = splitFields(lines[0], d.cfg.Delimiter)
		d.haveHeader = true
		lines = lines[1:]
	}

	var recs []*data.SensorData
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !d.haveHeader {
			d.skipped++
			d.logger.Warn("no columns configured and no header seen, skipping line")
			continue
		}

		fields := splitFields(line, d.cfg.Delimiter)
		if len(fields) != len(d.header) {
			d.skipped++
			d.logger.Warn("column count mismatch, skipping line",
				"expected", len(d.header), "got", len(fields))
			continue
		}

		rec := data.New(d.cfg.SensorID, d.cfg.DataType)
		timestamped := false
		for i, col := range d.header {
			val := fields[i]
			if col == d.cfg.TimestampColumn {
				rec.SetTimestamp(val)
				timestamped = true
				continue
			}
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				rec.Values[col] = f
			} else {
				// Non-numeric channels travel in metadata.
				rec.Metadata[col] = val
			}
			if unit, ok := d.cfg.Units[col]; ok {
				rec.Units[col] = unit
			}
		}
		if !timestamped {
			rec.SetTimestamp(nil)
		}

		d.decoded++
		recs = append(recs, rec)
	}
	return recs, nil
}

// Status reports decoder progress.
func (d *CSV) Status() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]any{
		"decoded":  d.decoded,
		"skipped":  d.skipped,
		"buffered": len(d.buffer),
	}
}

func splitFields(line, delimiter string) []string {
	fields := strings.Split(line, delimiter)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

var _ stage.Decoder = (*CSV)(nil)
var _ stage.StatusReporter = (*CSV)(nil)
