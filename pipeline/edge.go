package pipeline

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// envelope carries either a value or an end-of-stream marker. Using an
// explicit marker instead of a magic value keeps nil-able payload types
// usable as records.
type envelope[T any] struct {
	val T
	eos bool
}

// edge is a bounded FIFO queue between two stage workers. Every edge has
// exactly one consumer; producers may be several (fan-in), in which case
// the consumer drains one end-of-stream marker per producer before
// treating the stream as finished.
type edge[T any] struct {
	name        string
	ch          chan envelope[T]
	capacity    int
	producers   int
	pushTimeout time.Duration
	drops       atomic.Int64
	logger      *slog.Logger

	// consumer-side only
	eosSeen int
}

func newEdge[T any](name string, capacity, producers int, pushTimeout time.Duration, logger *slog.Logger) *edge[T] {
	if capacity < 1 {
		capacity = 1
	}
	if producers < 1 {
		producers = 1
	}
	return &edge[T]{
		name:        name,
		ch:          make(chan envelope[T], capacity),
		capacity:    capacity,
		producers:   producers,
		pushTimeout: pushTimeout,
		logger:      logger,
	}
}

// push offers a value with a bounded wait. On timeout the value is
// dropped, the per-edge drop counter incremented and a warning logged; the
// producer never blocks indefinitely. Returns false when the value was not
// delivered.
func (q *edge[T]) push(done <-chan struct{}, v T) bool {
	select {
	case q.ch <- envelope[T]{val: v}:
		return true
	default:
	}

	timer := time.NewTimer(q.pushTimeout)
	defer timer.Stop()

	select {
	case q.ch <- envelope[T]{val: v}:
		return true
	case <-timer.C:
		q.drops.Add(1)
		q.logger.Warn("queue full, dropping record",
			"edge", q.name,
			"drops", q.drops.Load())
		return false
	case <-done:
		return false
	}
}

// pushEOS emits this producer's single end-of-stream marker. Delivery
// waits up to timeout so a stalled consumer cannot hang shutdown. A marker
// dropped on timeout leaves the consumer's fan-in count permanently short;
// from then on the stream finishes only through the done signal, which
// Stop always delivers.
func (q *edge[T]) pushEOS(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.ch <- envelope[T]{eos: true}:
	case <-timer.C:
		q.logger.Warn("end-of-stream marker delivery timed out", "edge", q.name)
	}
}

// pull blocks for the next value. It returns ok=false once every producer
// has delivered its end-of-stream marker, or when done closes. Only the
// edge's single consumer may call pull.
func (q *edge[T]) pull(done <-chan struct{}) (T, bool) {
	var zero T
	for {
		select {
		case env := <-q.ch:
			if env.eos {
				q.eosSeen++
				if q.eosSeen >= q.producers {
					return zero, false
				}
				continue
			}
			return env.val, true
		case <-done:
			return zero, false
		}
	}
}

func (q *edge[T]) depth() int     { return len(q.ch) }
func (q *edge[T]) dropped() int64 { return q.drops.Load() }

// edgeStat is the monitoring view of an edge, type-erased for status
// reporting across differently-typed edges.
type edgeStat interface {
	Name() string
	Depth() int
	Cap() int
	Drops() int64
}

func (q *edge[T]) Name() string { return q.name }
func (q *edge[T]) Depth() int   { return q.depth() }
func (q *edge[T]) Cap() int     { return q.capacity }
func (q *edge[T]) Drops() int64 { return q.dropped() }
