// Package monitor samples host and process resource usage on a fixed
// interval and exposes the latest sample, a bounded history, and a derived
// health status.
package monitor

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Defaults applied by New when options are not given.
const (
	DefaultInterval    = time.Second
	DefaultLogInterval = time.Minute
	DefaultHistorySize = 60

	stopJoinTimeout = 2 * time.Second
)

// Thresholds for the derived health status, in percent.
const (
	degradedThreshold  = 80.0
	unhealthyThreshold = 95.0
)

// Sample is one point-in-time resource measurement. Fields that could not
// be read are zero; collection is best effort.
type Sample struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPercent   float64   `json:"memory_percent"`
	MemoryTotal     uint64    `json:"memory_total"`
	MemoryAvailable uint64    `json:"memory_available"`
	DiskPercent     float64   `json:"disk_percent"`
	ProcessCPU      float64   `json:"process_cpu"`
	ProcessRSS      uint64    `json:"process_rss"`
	Goroutines      int       `json:"goroutines"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithHistorySize bounds the retained sample history.
func WithHistorySize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.historySize = n
		}
	}
}

// WithLogInterval sets how often a stats line is logged.
func WithLogInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.logInterval = d
		}
	}
}

// WithDiskPath sets the mount point measured for disk usage.
func WithDiskPath(path string) Option {
	return func(m *Monitor) { m.diskPath = path }
}

// Monitor periodically samples system and process resource usage.
type Monitor struct {
	interval    time.Duration
	logInterval time.Duration
	historySize int
	diskPath    string
	logger      *slog.Logger
	proc        *process.Process

	mu      sync.Mutex
	current Sample
	history []Sample
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a monitor sampling at the given interval. A nil logger falls
// back to slog.Default.
func New(interval time.Duration, logger *slog.Logger, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		interval:    interval,
		logInterval: DefaultLogInterval,
		historySize: DefaultHistorySize,
		diskPath:    "/",
		logger:      logger.With("component", "monitor.Monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.logger.Warn("process stats unavailable", "error", err)
	} else {
		m.proc = proc
	}
	return m
}

// Start launches the sampling loop. Starting a running monitor is a warning
// no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.logger.Warn("monitor already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(runCtx)
	m.logger.Info("system monitor started", "interval", m.interval)
}

// Stop halts the sampling loop, waiting briefly for it to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.logger.Warn("monitor not running")
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		m.logger.Warn("monitor loop did not stop cleanly")
	}
	m.logger.Info("system monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	lastLog := time.Now()
	m.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
			if time.Since(lastLog) >= m.logInterval {
				m.logStats()
				lastLog = time.Now()
			}
		}
	}
}

// sample collects one measurement. Individual probe failures are logged at
// debug and leave the corresponding fields zero.
func (m *Monitor) sample() {
	s := Sample{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	if pcts, err := cpu.Percent(0, false); err != nil {
		m.logger.Debug("cpu probe failed", "error", err)
	} else if len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		m.logger.Debug("memory probe failed", "error", err)
	} else {
		s.MemoryPercent = vm.UsedPercent
		s.MemoryTotal = vm.Total
		s.MemoryAvailable = vm.Available
	}

	if du, err := disk.Usage(m.diskPath); err != nil {
		m.logger.Debug("disk probe failed", "path", m.diskPath, "error", err)
	} else {
		s.DiskPercent = du.UsedPercent
	}

	if m.proc != nil {
		if pc, err := m.proc.CPUPercent(); err == nil {
			s.ProcessCPU = pc
		}
		if mi, err := m.proc.MemoryInfo(); err == nil {
			s.ProcessRSS = mi.RSS
		}
	}

	m.mu.Lock()
	m.current = s
	m.history = append(m.history, s)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}
	m.mu.Unlock()
}

func (m *Monitor) logStats() {
	s := m.Current()
	m.logger.Debug("system stats",
		"cpu_percent", s.CPUPercent,
		"memory_percent", s.MemoryPercent,
		"disk_percent", s.DiskPercent,
		"process_cpu", s.ProcessCPU,
		"process_rss", s.ProcessRSS,
		"goroutines", s.Goroutines)
}

// Current returns the most recent sample.
func (m *Monitor) Current() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// Stats returns the current sample as a generic map for status surfaces.
func (m *Monitor) Stats() map[string]any {
	s := m.Current()
	return map[string]any{
		"timestamp":        s.Timestamp,
		"cpu_percent":      s.CPUPercent,
		"memory_percent":   s.MemoryPercent,
		"memory_total":     s.MemoryTotal,
		"memory_available": s.MemoryAvailable,
		"disk_percent":     s.DiskPercent,
		"process_cpu":      s.ProcessCPU,
		"process_rss":      s.ProcessRSS,
		"goroutines":       s.Goroutines,
	}
}

// Health derives a health status from the current sample.
func (m *Monitor) Health() Status {
	return healthFor(m.Current())
}

func healthFor(s Sample) Status {
	switch {
	case s.CPUPercent >= unhealthyThreshold || s.MemoryPercent >= unhealthyThreshold:
		return NewUnhealthy("system", "resource usage critical")
	case s.CPUPercent >= degradedThreshold || s.MemoryPercent >= degradedThreshold:
		return NewDegraded("system", "resource usage high")
	default:
		return NewHealthy("system", "resource usage nominal")
	}
}
