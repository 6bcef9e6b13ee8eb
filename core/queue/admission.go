// Package queue implements the admission queue that hands accepted
// connections from the acceptor to the worker pool.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

var (
	// ErrQueueFull is returned by Enqueue when a bounded queue is at capacity.
	ErrQueueFull = errors.New("admission queue full")
	// ErrQueueClosed is returned once the queue has been closed.
	ErrQueueClosed = errors.New("admission queue closed")
)

// Unbounded disables the capacity check. Under sustained load a slow worker
// pool then lets the queue grow without limit.
const Unbounded = 0

// Admission is a multi-producer, multi-consumer FIFO. Every item enqueued is
// delivered to exactly one consumer. Ordering between consumers is best-effort.
type Admission[T any] struct {
	mu       sync.Mutex
	items    *queue.Queue
	capacity int
	closed   bool

	// ready holds a token whenever items may be waiting. A consumer that takes
	// the token and leaves items behind passes it on.
	ready chan struct{}

	enqueued atomic.Uint64
	dequeued atomic.Uint64
	rejected atomic.Uint64
}

// New creates an admission queue. A capacity of Unbounded disables the limit.
func New[T any](capacity int) *Admission[T] {
	if capacity < 0 {
		capacity = Unbounded
	}
	return &Admission[T]{
		items:    queue.New(),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue appends v. It never blocks: a full queue rejects the item.
func (q *Admission[T]) Enqueue(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.rejected.Add(1)
		return ErrQueueClosed
	}
	if q.capacity != Unbounded && q.items.Length() >= q.capacity {
		q.mu.Unlock()
		q.rejected.Add(1)
		return ErrQueueFull
	}
	q.items.Add(v)
	q.signal()
	q.mu.Unlock()

	q.enqueued.Add(1)
	return nil
}

// TryDequeue removes the oldest item without blocking.
func (q *Admission[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	if q.items.Length() == 0 {
		q.mu.Unlock()
		var zero T
		return zero, false
	}
	v := q.items.Remove().(T)
	if q.items.Length() > 0 {
		q.signal()
	}
	q.mu.Unlock()

	q.dequeued.Add(1)
	return v, true
}

// Dequeue blocks until an item is available, ctx is done, or the queue is
// closed and drained.
func (q *Admission[T]) Dequeue(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryDequeue(); ok {
			return v, nil
		}

		q.mu.Lock()
		closed := q.closed && q.items.Length() == 0
		q.mu.Unlock()
		if closed {
			var zero T
			return zero, ErrQueueClosed
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// signal must be called with mu held so it cannot race with Close.
func (q *Admission[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Close rejects further enqueues and returns the items nobody dequeued.
// Blocked consumers are released with ErrQueueClosed.
func (q *Admission[T]) Close() []T {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	left := make([]T, 0, q.items.Length())
	for q.items.Length() > 0 {
		left = append(left, q.items.Remove().(T))
	}
	// closing ready wakes every waiter at once
	close(q.ready)
	q.mu.Unlock()
	return left
}

// Len returns the number of queued items.
func (q *Admission[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Cap returns the configured capacity, or Unbounded.
func (q *Admission[T]) Cap() int { return q.capacity }

// Stats is a snapshot of queue counters
type Stats struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns queue counters.
func (q *Admission[T]) Stats() Stats {
	return Stats{
		Depth:    q.Len(),
		Capacity: q.capacity,
		Enqueued: q.enqueued.Load(),
		Dequeued: q.dequeued.Load(),
		Rejected: q.rejected.Load(),
	}
}
