// Package reportqueue provides the FIFO queues that hold notifications and
// task reports until a forwarder delivers them.
package reportqueue

import (
	"sync"

	"github.com/xiaonanln/oambridge/util/metrics"
)

// Queue is a concurrency-safe FIFO. Items that fail delivery are pushed back
// with Add and so land behind everything already queued.
type Queue[T any] struct {
	name  string
	mu    sync.Mutex
	items []T
	head  int
}

// New creates an empty queue. name labels the queue depth gauge.
func New[T any](name string) *Queue[T] {
	return &Queue[T]{name: name}
}

// Name returns the queue's label.
func (q *Queue[T]) Name() string {
	return q.name
}

// HasMore reports whether the queue is non-empty.
func (q *Queue[T]) HasMore() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head < len(q.items)
}

// GetNext pops the oldest item. ok is false when the queue is empty.
func (q *Queue[T]) GetNext() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return item, false
	}
	item = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0:0], q.items[q.head:]...)
		q.head = 0
	}
	q.reportDepthLocked()
	return item, true
}

// Add pushes items to the back of the queue.
func (q *Queue[T]) Add(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	q.reportDepthLocked()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Snapshot returns a copy of the queued items in pop order.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]T(nil), q.items[q.head:]...)
}

func (q *Queue[T]) reportDepthLocked() {
	if q.name != "" {
		metrics.SetQueueDepth(q.name, len(q.items)-q.head)
	}
}
