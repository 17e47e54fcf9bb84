package buffer

import (
	"sync"

	"github.com/sensorpipe/sensorpipe/errors"
)

// Ring is a fixed-capacity circular buffer of T.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	opts     *options[T]

	notFull *sync.Cond // Block policy
	closed  bool
}

// NewRing creates a ring with the given capacity. Capacity below 1 is
// raised to 1.
func NewRing[T any](capacity int, opts ...Option[T]) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		opts:     applyOptions(opts...),
	}
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// Push adds an item according to the overflow policy.
func (r *Ring[T]) Push(item T) error {
	var dropped *T

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Ring", "Push", "closed ring check")
	}

	if r.size == r.capacity {
		switch r.opts.policy {
		case DropOldest:
			evicted := r.items[r.tail]
			r.tail = (r.tail + 1) % r.capacity
			r.size--
			r.stats.Drop()
			dropped = &evicted

		case DropNewest:
			r.stats.Drop()
			r.mu.Unlock()
			if r.opts.dropCallback != nil {
				r.opts.dropCallback(item)
			}
			return nil

		case Block:
			for r.size == r.capacity && !r.closed {
				r.notFull.Wait()
			}
			if r.closed {
				r.mu.Unlock()
				return errors.WrapInvalid(errors.ErrAlreadyStopped, "Ring", "Push", "closed during blocking wait")
			}
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Push(r.size)
	r.mu.Unlock()

	if dropped != nil && r.opts.dropCallback != nil {
		r.opts.dropCallback(*dropped)
	}
	return nil
}

// Pop removes and returns the oldest item.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.Pop(r.size)
	r.notFull.Signal()
	return item, true
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.tail], true
}

// Snapshot copies the buffered items oldest-first without consuming them.
// Exporters use it so an export never disturbs retention.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.tail+i)%r.capacity])
	}
	return out
}

// Size returns the current number of buffered items.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the fixed capacity.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.size = 0
	r.head = 0
	r.tail = 0
	r.stats.UpdateSize(0)
	r.notFull.Broadcast()
}

// Stats returns the ring's statistics.
func (r *Ring[T]) Stats() *Statistics {
	return r.stats
}

// Close marks the ring closed. Blocked pushers are released with an error;
// buffered items stay readable.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.notFull.Broadcast()
	return nil
}
