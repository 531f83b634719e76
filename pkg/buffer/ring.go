// Package buffer provides a bounded FIFO ring used for per-session
// outbound queues. The queue is written by the hub goroutine and
// drained by a session's writer goroutine; Wait exposes a notification
// channel so the drainer can sleep until data arrives.
package buffer

import (
	"sync"

	"github.com/c360/squawkbus/errors"
)

// OverflowPolicy selects what Write does when the ring is full.
type OverflowPolicy int

const (
	// Reject makes Write fail with ErrOutboundOverflow when full. The
	// broker uses this for session queues: a subscriber that cannot
	// drain its socket is dropped rather than ballooning broker memory.
	Reject OverflowPolicy = iota
	// DropOldest makes Write discard the oldest queued item when full.
	DropOldest
)

// Ring is a thread-safe bounded FIFO.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	size     int
	policy   OverflowPolicy
	closed   bool
	notify   chan struct{}
	dropped  int64
	enqueued int64
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int, policy OverflowPolicy) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(
			errors.New("capacity must be positive"), "buffer", "NewRing", "capacity validation")
	}
	return &Ring[T]{
		items:  make([]T, capacity),
		policy: policy,
		notify: make(chan struct{}, 1),
	}, nil
}

// Write enqueues an item. On a full Reject ring it fails with
// ErrOutboundOverflow; on a full DropOldest ring it discards the
// oldest item. Writing to a closed ring fails with ErrSessionClosed.
func (r *Ring[T]) Write(item T) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.ErrSessionClosed
	}

	if r.size == len(r.items) {
		if r.policy == Reject {
			r.dropped++
			r.mu.Unlock()
			return errors.ErrOutboundOverflow
		}
		// DropOldest: overwrite the head slot.
		r.head = (r.head + 1) % len(r.items)
		r.size--
		r.dropped++
	}

	r.items[(r.head+r.size)%len(r.items)] = item
	r.size++
	r.enqueued++
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// ReadBatch dequeues up to max items, in FIFO order. It returns nil
// when the ring is empty.
func (r *Ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(max, r.size)
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		var zero T
		out[i] = r.items[r.head]
		r.items[r.head] = zero
		r.head = (r.head + 1) % len(r.items)
	}
	r.size -= n
	return out
}

// Wait returns a channel that receives after Write enqueues. The
// channel has capacity one; a drainer loops ReadBatch until empty
// after each wakeup.
func (r *Ring[T]) Wait() <-chan struct{} { return r.notify }

// Len returns the number of queued items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Dropped returns the number of items refused or discarded.
func (r *Ring[T]) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close marks the ring closed and wakes any waiter. Queued items stay
// readable so a drainer can flush before the socket closes.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close has been called.
func (r *Ring[T]) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
