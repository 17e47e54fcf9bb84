package reader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/pkg/retry"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// SerialConfig holds configuration for the serial port reader.
type SerialConfig struct {
	Port        string        `json:"port"`
	BaudRate    int           `json:"baud_rate"`
	ReadTimeout time.Duration `json:"read_timeout"`
	BufferSize  int           `json:"buffer_size"`
}

// Validate checks the configuration for errors.
func (c *SerialConfig) Validate() error {
	if c.Port == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SerialConfig", "Validate", "port is required")
	}
	if c.BaudRate <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SerialConfig", "Validate", "baud_rate must be positive")
	}
	return nil
}

// DefaultSerialConfig returns the default serial reader configuration.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate:    115200,
		ReadTimeout: 100 * time.Millisecond,
		BufferSize:  512,
	}
}

// openPort is swapped out in tests.
var openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

// Serial reads raw bytes from a serial port. The source never returns
// io.EOF; a timed-out read yields an empty chunk, which the executor
// skips.
type Serial struct {
	cfg    SerialConfig
	logger *slog.Logger

	mu        sync.Mutex
	port      serial.Port
	bytesRead int64
}

// NewSerial creates a serial reader from its configuration section.
func NewSerial(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := DefaultSerialConfig()
	cfg.Port = stage.GetString(config, "port", "")
	cfg.BaudRate = stage.GetInt(config, "baud_rate", cfg.BaudRate)
	cfg.ReadTimeout = stage.GetDuration(config, "read_timeout", cfg.ReadTimeout)
	cfg.BufferSize = stage.GetInt(config, "buffer_size", cfg.BufferSize)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Serial{cfg: cfg, logger: deps.Logger}, nil
}

// Open opens the serial port, retrying with backoff because adapters
// commonly enumerate a moment after the process starts.
func (r *Serial) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port != nil {
		return nil
	}

	mode := &serial.Mode{BaudRate: r.cfg.BaudRate}
	port, err := retry.DoWithResult(context.Background(), retry.Quick(), func() (serial.Port, error) {
		return openPort(r.cfg.Port, mode)
	})
	if err != nil {
		return errors.WrapFatal(err, "Serial", "Open", "serial port open")
	}
	if err := port.SetReadTimeout(r.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return errors.WrapFatal(err, "Serial", "Open", "read timeout configuration")
	}

	r.port = port
	r.bytesRead = 0
	r.logger.Info("serial port opened", "port", r.cfg.Port, "baud_rate", r.cfg.BaudRate)
	return nil
}

// Read returns the next chunk of raw bytes. A read timeout yields an
// empty chunk rather than an error.
func (r *Serial) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	port := r.port
	r.mu.Unlock()
	if port == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Serial", "Read", "port not open")
	}

	buf := make([]byte, r.cfg.BufferSize)
	n, err := port.Read(buf)
	if err != nil {
		return nil, errors.WrapTransient(err, "Serial", "Read", "port read")
	}
	if n == 0 {
		return nil, nil
	}

	r.mu.Lock()
	r.bytesRead += int64(n)
	r.mu.Unlock()
	return buf[:n], nil
}

// Close closes the serial port.
func (r *Serial) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	if err != nil {
		return errors.Wrap(err, "Serial", "Close", "serial port close")
	}
	return nil
}

// Status reports reader progress.
func (r *Serial) Status() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		"port":       r.cfg.Port,
		"baud_rate":  r.cfg.BaudRate,
		"open":       r.port != nil,
		"bytes_read": r.bytesRead,
	}
}

var _ stage.Reader = (*Serial)(nil)
var _ stage.StatusReporter = (*Serial)(nil)
