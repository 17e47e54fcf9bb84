package configurator

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/sensorpipe/sensorpipe/errors"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// witResetCommand restores factory defaults on WitMotion devices.
var witResetCommand = []byte{0xFF, 0xAA, 0x00}

// openPort is swapped in tests.
var openPort = serial.Open

// WitMotionConfig holds configuration for the WitMotion configurator.
type WitMotionConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	// InitSequence is a list of hex command strings ("FF AA 69 88 B5")
	// sent in order during Configure.
	InitSequence []string      `json:"init_sequence"`
	CommandDelay time.Duration `json:"command_delay"`
}

// Validate checks the configuration for errors.
func (c *WitMotionConfig) Validate() error {
	if c.Port == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "WitMotionConfig", "Validate", "port must not be empty")
	}
	if c.BaudRate <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "WitMotionConfig", "Validate", "baud_rate must be positive")
	}
	for _, cmd := range c.InitSequence {
		if _, err := parseHexCommand(cmd); err != nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "WitMotionConfig", "Validate", fmt.Sprintf("init command %q validation", cmd))
		}
	}
	return nil
}

// WitMotion sends a configuration command sequence to a WitMotion IMU over
// its serial port before the pipeline starts reading from it. Reset
// restores factory defaults on shutdown.
type WitMotion struct {
	cfg    WitMotionConfig
	logger *slog.Logger

	mu         sync.Mutex
	configured bool
}

// NewWitMotion creates a WitMotion configurator from its configuration
// section.
func NewWitMotion(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := WitMotionConfig{
		Port:         stage.GetString(config, "port", ""),
		BaudRate:     stage.GetInt(config, "baud_rate", 9600),
		InitSequence: stage.GetStringSlice(config, "init_sequence", nil),
		CommandDelay: stage.GetDuration(config, "command_delay", 100*time.Millisecond),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &WitMotion{
		cfg:    cfg,
		logger: deps.Logger.With("component", "configurator.witmotion"),
	}, nil
}

// Configure opens the port, sends the init sequence, and closes it again.
// The reader stage opens the port afterwards for the data flow.
func (c *WitMotion) Configure() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmds := make([][]byte, 0, len(c.cfg.InitSequence))
	for _, raw := range c.cfg.InitSequence {
		cmd, err := parseHexCommand(raw)
		if err != nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "WitMotion", "Configure", fmt.Sprintf("init command %q parse", raw))
		}
		cmds = append(cmds, cmd)
	}

	if err := c.send(cmds); err != nil {
		return err
	}
	c.configured = true
	c.logger.Info("device configured", "port", c.cfg.Port, "commands", len(cmds))
	return nil
}

// Reset sends the factory-default command. Best effort: a missing device
// at shutdown is logged, not fatal.
func (c *WitMotion) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.configured {
		return nil
	}
	if err := c.send([][]byte{witResetCommand}); err != nil {
		return err
	}
	c.configured = false
	c.logger.Info("device reset", "port", c.cfg.Port)
	return nil
}

func (c *WitMotion) send(cmds [][]byte) error {
	mode := &serial.Mode{BaudRate: c.cfg.BaudRate}
	port, err := openPort(c.cfg.Port, mode)
	if err != nil {
		return errors.WrapTransient(errors.ErrNoConnection, "WitMotion", "send", fmt.Sprintf("open %s (%v)", c.cfg.Port, err))
	}
	defer port.Close()

	for _, cmd := range cmds {
		if _, err := port.Write(cmd); err != nil {
			return errors.WrapTransient(err, "WitMotion", "send", "write command")
		}
		c.logger.Debug("command sent", "bytes", hex.EncodeToString(cmd))
		time.Sleep(c.cfg.CommandDelay)
	}
	return nil
}

func parseHexCommand(s string) ([]byte, error) {
	clean := strings.ReplaceAll(s, " ", "")
	return hex.DecodeString(clean)
}

var _ stage.Configurator = (*WitMotion)(nil)
