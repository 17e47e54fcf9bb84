package reader

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// FileConfig holds configuration for the file reader.
type FileConfig struct {
	Path      string        `json:"path"`
	ChunkSize int           `json:"chunk_size"`
	ReadDelay time.Duration `json:"read_delay"` // optional pacing between chunks
}

// Validate checks the configuration for errors.
func (c *FileConfig) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "FileConfig", "Validate", "path is required")
	}
	if c.ChunkSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "FileConfig", "Validate", "chunk_size cannot be negative")
	}
	return nil
}

// DefaultFileConfig returns the default file reader configuration.
func DefaultFileConfig() FileConfig {
	return FileConfig{ChunkSize: 4096}
}

// File reads a capture file in fixed-size chunks. The source is finite:
// Read returns io.EOF at end of file. Open rewinds, so a restarted
// pipeline replays the capture.
type File struct {
	cfg    FileConfig
	logger *slog.Logger

	mu        sync.Mutex
	f         *os.File
	bytesRead int64
	chunks    int64
}

// NewFile creates a file reader from its configuration section.
func NewFile(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := DefaultFileConfig()
	cfg.Path = stage.GetString(config, "path", "")
	cfg.ChunkSize = stage.GetInt(config, "chunk_size", cfg.ChunkSize)
	cfg.ReadDelay = stage.GetDuration(config, "read_delay", 0)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &File{cfg: cfg, logger: deps.Logger}, nil
}

// Open opens the capture file, rewinding any previous position.
func (r *File) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f != nil {
		if err := r.f.Close(); err != nil {
			r.logger.Warn("closing stale file handle failed", "error", err)
		}
	}
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return errors.WrapFatal(err, "File", "Open", "capture file open")
	}
	r.f = f
	r.bytesRead = 0
	r.chunks = 0
	r.logger.Info("capture file opened", "path", r.cfg.Path, "chunk_size", r.cfg.ChunkSize)
	return nil
}

// Read returns the next chunk, or io.EOF at end of file.
func (r *File) Read(ctx context.Context) ([]byte, error) {
	if r.cfg.ReadDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.ReadDelay):
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "File", "Read", "reader not open")
	}

	buf := make([]byte, r.cfg.ChunkSize)
	n, err := r.f.Read(buf)
	if n > 0 {
		r.bytesRead += int64(n)
		r.chunks++
		return buf[:n], nil
	}
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "File", "Read", "chunk read")
	}
	return nil, nil
}

// Close closes the capture file.
func (r *File) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	if err != nil {
		return errors.Wrap(err, "File", "Close", "capture file close")
	}
	return nil
}

// Status reports reader progress.
func (r *File) Status() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		"path":       r.cfg.Path,
		"open":       r.f != nil,
		"bytes_read": r.bytesRead,
		"chunks":     r.chunks,
	}
}

var _ stage.Reader = (*File)(nil)
var _ stage.StatusReporter = (*File)(nil)
