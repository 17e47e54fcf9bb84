// Package buffer provides a generic, thread-safe ring buffer with
// configurable overflow policies. The engine uses it to retain the most
// recent records of each pipeline for on-demand export; statistics are
// always collected.
package buffer

// OverflowPolicy defines how the ring behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room. Default, and the
	// right policy for retention: the newest records matter most.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item when full.
	DropNewest

	// Block makes Push wait until space is available or the ring closes.
	Block
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback receives each item evicted or discarded by an overflow.
type DropCallback[T any] func(item T)

// Option configures a Ring using the functional options pattern.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy       OverflowPolicy
	dropCallback DropCallback[T]
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithDropCallback sets a callback invoked for every dropped item, outside
// the ring's lock.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.dropCallback = cb
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{policy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
