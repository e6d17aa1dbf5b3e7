// Package queue holds rows waiting for a batch write.
package queue

import (
	"sync"
	"sync/atomic"
)

// Queue is a thread-safe FIFO of pending rows. With a limit, the oldest rows
// are dropped once the limit is exceeded.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped atomic.Uint64
}

// New creates an empty queue. limit <= 0 means unbounded.
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: limit}
}

// Push appends items.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	q.trimLocked()
}

// Requeue puts items that failed to write back in front of newer rows.
func (q *Queue[T]) Requeue(items []T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append(make([]T, 0, len(items)+len(q.items)), items...), q.items...)
	q.trimLocked()
}

func (q *Queue[T]) trimLocked() {
	if q.limit <= 0 || len(q.items) <= q.limit {
		return
	}
	over := len(q.items) - q.limit
	q.dropped.Add(uint64(over))
	q.items = append(q.items[:0:0], q.items[over:]...)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain returns every queued item in order and empties the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Dropped counts items discarded because the limit was exceeded.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
