package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO buffer. It backs the detection
// pipeline's write batching, where events accumulate between flushes.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// New creates a new empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends items to the queue.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// Pop removes and returns the oldest item, or the zero value when empty.
func (q *Queue[T]) Pop() (item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Clear discards all queued items.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}

// Drain returns every queued item in order and leaves the queue empty.
// The returned slice is the caller's to keep.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.items
	q.items = make([]T, 0, cap(q.items))
	return batch
}
