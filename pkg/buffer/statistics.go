package buffer

import "sync/atomic"

// Statistics tracks ring activity with atomic counters so readers never
// contend with the ring's lock.
type Statistics struct {
	pushes  atomic.Int64
	pops    atomic.Int64
	drops   atomic.Int64
	size    atomic.Int64
	maxSize atomic.Int64
}

// NewStatistics creates a zeroed statistics block.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Push records a successful push and the resulting size.
func (s *Statistics) Push(size int) {
	s.pushes.Add(1)
	s.UpdateSize(int64(size))
}

// Pop records a successful pop and the resulting size.
func (s *Statistics) Pop(size int) {
	s.pops.Add(1)
	s.UpdateSize(int64(size))
}

// Drop records an overflow drop.
func (s *Statistics) Drop() {
	s.drops.Add(1)
}

// UpdateSize records the current size and tracks the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.size.Store(size)
	for {
		maxVal := s.maxSize.Load()
		if size <= maxVal || s.maxSize.CompareAndSwap(maxVal, size) {
			return
		}
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Pushes  int64 `json:"pushes"`
	Pops    int64 `json:"pops"`
	Drops   int64 `json:"drops"`
	Size    int64 `json:"size"`
	MaxSize int64 `json:"max_size"`
}

// Get returns a consistent-enough snapshot for status reporting.
func (s *Statistics) Get() Snapshot {
	return Snapshot{
		Pushes:  s.pushes.Load(),
		Pops:    s.pops.Load(),
		Drops:   s.drops.Load(),
		Size:    s.size.Load(),
		MaxSize: s.maxSize.Load(),
	}
}
