package writer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/pkg/retry"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// SQLiteConfig holds configuration for the SQLite writer.
type SQLiteConfig struct {
	// Path is the database file. Empty writes records.db under the data
	// directory.
	Path string `json:"path"`
	// Table is the target table name.
	Table string `json:"table"`
	// BatchSize groups inserts into one transaction.
	BatchSize int `json:"batch_size"`
}

// Validate checks the configuration for errors.
func (c *SQLiteConfig) Validate() error {
	if c.Table == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SQLiteConfig", "Validate", "table must not be empty")
	}
	if c.BatchSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SQLiteConfig", "Validate", "batch_size must be positive")
	}
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS %s (
	id         TEXT PRIMARY KEY,
	sensor_id  TEXT NOT NULL,
	data_type  TEXT NOT NULL,
	timestamp  REAL NOT NULL,
	values_json   TEXT NOT NULL,
	metadata_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%s_sensor_ts ON %s (sensor_id, timestamp);
`

// SQLite persists records to a SQLite database via modernc.org/sqlite.
// Channel maps are stored as JSON so heterogeneous sensors share one
// table. Inserts are batched into transactions.
type SQLite struct {
	cfg     SQLiteConfig
	logger  *slog.Logger
	dataDir string

	mu      sync.Mutex
	db      *sql.DB
	tx      *sql.Tx
	pending int
	written int64
}

// NewSQLite creates a SQLite writer from its configuration section.
func NewSQLite(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := SQLiteConfig{
		Path:      stage.GetString(config, "path", ""),
		Table:     stage.GetString(config, "table", "sensor_records"),
		BatchSize: stage.GetInt(config, "batch_size", 50),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &SQLite{
		cfg:     cfg,
		logger:  deps.Logger.With("component", "writer.sqlite"),
		dataDir: deps.DataDir,
	}, nil
}

// Open connects to the database, applies pragmas, and ensures the schema.
// A locked database file is retried briefly before giving up.
func (w *SQLite) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.cfg.Path
	if path == "" {
		path = filepath.Join(w.dataDir, "records.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapTransient(errors.ErrStorageUnavailable, "SQLite", "Open", fmt.Sprintf("create %s (%v)", dir, err))
		}
	}

	db, err := retry.DoWithResult(context.Background(), retry.Quick(), func() (*sql.DB, error) {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "SQLite", "Open", fmt.Sprintf("open %s (%v)", path, err))
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return errors.WrapTransient(err, "SQLite", "Open", "apply pragma")
		}
	}

	schema := fmt.Sprintf(sqliteSchema, w.cfg.Table, w.cfg.Table, w.cfg.Table)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return errors.WrapTransient(err, "SQLite", "Open", "ensure schema")
	}

	w.db = db
	w.written = 0
	w.pending = 0
	w.logger.Info("sqlite writer opened", "path", path, "table", w.cfg.Table)
	return nil
}

// Write inserts one record into the current batch transaction. The count
// returned is 0 until the batch commits, then the batch size.
func (w *SQLite) Write(rec *data.SensorData) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return 0, errors.Wrap(errors.ErrStorageUnavailable, "SQLite", "Write", "writer not open")
	}

	if w.tx == nil {
		tx, err := w.db.Begin()
		if err != nil {
			return 0, errors.WrapTransient(err, "SQLite", "Write", "begin batch")
		}
		w.tx = tx
	}

	valuesJSON, err := json.Marshal(rec.Values)
	if err != nil {
		return 0, errors.WrapInvalid(err, "SQLite", "Write", "encode values")
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return 0, errors.WrapInvalid(err, "SQLite", "Write", "encode metadata")
	}

	insert := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (id, sensor_id, data_type, timestamp, values_json, metadata_json) VALUES (?, ?, ?, ?, ?, ?)",
		w.cfg.Table)
	if _, err := w.tx.Exec(insert, rec.ID, rec.SensorID, rec.DataType, rec.Timestamp, string(valuesJSON), string(metadataJSON)); err != nil {
		return 0, errors.WrapTransient(err, "SQLite", "Write", "insert")
	}

	w.pending++
	if w.pending < w.cfg.BatchSize {
		return 0, nil
	}
	return w.commitLocked()
}

func (w *SQLite) commitLocked() (int, error) {
	if w.tx == nil {
		return 0, nil
	}
	n := w.pending
	err := w.tx.Commit()
	w.tx = nil
	w.pending = 0
	if err != nil {
		return 0, errors.WrapTransient(err, "SQLite", "Write", "commit batch")
	}
	w.written += int64(n)
	return n, nil
}

// Close commits any open batch and closes the database. Safe to call when
// not open.
func (w *SQLite) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return nil
	}
	_, err := w.commitLocked()
	if cerr := w.db.Close(); err == nil && cerr != nil {
		err = errors.WrapTransient(cerr, "SQLite", "Close", "close")
	}
	w.db = nil
	return err
}

// Status reports committed rows and the open batch size.
func (w *SQLite) Status() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]any{
		"written": w.written,
		"pending": w.pending,
		"table":   w.cfg.Table,
	}
}

var (
	_ stage.Writer         = (*SQLite)(nil)
	_ stage.StatusReporter = (*SQLite)(nil)
)
