package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// counters aggregates per-stage record counts with atomics so workers
// never serialize on a lock. Error counts are keyed by worker name; the
// map is fixed at setup time and only its values mutate afterwards.
type counters struct {
	read      atomic.Int64
	decode    atomic.Int64
	process   atomic.Int64
	analyze   atomic.Int64
	visualize atomic.Int64
	write     atomic.Int64

	mu     sync.Mutex
	errors map[string]*atomic.Int64

	startMu   sync.Mutex
	startTime time.Time
}

func newCounters() *counters {
	return &counters{errors: make(map[string]*atomic.Int64)}
}

func (c *counters) errorCounter(worker string) *atomic.Int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctr, ok := c.errors[worker]
	if !ok {
		ctr = &atomic.Int64{}
		c.errors[worker] = ctr
	}
	return ctr
}

func (c *counters) countError(worker string) {
	c.errorCounter(worker).Add(1)
}

func (c *counters) markStarted(t time.Time) {
	c.startMu.Lock()
	c.startTime = t
	c.startMu.Unlock()
}

func (c *counters) started() time.Time {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return c.startTime
}

// Metrics is a point-in-time snapshot of pipeline activity. Throughput is
// successful writes per second since the first transition to running.
type Metrics struct {
	ReadCount      int64            `json:"read_count"`
	DecodeCount    int64            `json:"decode_count"`
	ProcessCount   int64            `json:"process_count"`
	AnalyzeCount   int64            `json:"analyze_count"`
	VisualizeCount int64            `json:"visualize_count"`
	WriteCount     int64            `json:"write_count"`
	Errors         map[string]int64 `json:"errors"`
	StartTime      time.Time        `json:"start_time"`
	Throughput     float64          `json:"throughput"`
}

func (c *counters) snapshot() Metrics {
	m := Metrics{
		ReadCount:      c.read.Load(),
		DecodeCount:    c.decode.Load(),
		ProcessCount:   c.process.Load(),
		AnalyzeCount:   c.analyze.Load(),
		VisualizeCount: c.visualize.Load(),
		WriteCount:     c.write.Load(),
		Errors:         make(map[string]int64),
		StartTime:      c.started(),
	}

	c.mu.Lock()
	for name, ctr := range c.errors {
		m.Errors[name] = ctr.Load()
	}
	c.mu.Unlock()

	if !m.StartTime.IsZero() {
		if elapsed := time.Since(m.StartTime).Seconds(); elapsed > 0 {
			m.Throughput = float64(m.WriteCount) / elapsed
		}
	}
	return m
}

// QueueStatus reports one edge's depth and drop count.
type QueueStatus struct {
	Depth    int   `json:"depth"`
	Capacity int   `json:"capacity"`
	Drops    int64 `json:"drops"`
}

// Status is the pollable surface of one executor.
type Status struct {
	ID         string                    `json:"id"`
	State      string                    `json:"state"`
	Running    bool                      `json:"running"`
	Paused     bool                      `json:"paused"`
	Metrics    Metrics                   `json:"metrics"`
	Components map[string]map[string]any `json:"components"`
	Queues     map[string]QueueStatus    `json:"queues"`
	Workers    map[string]bool           `json:"workers"`
}
