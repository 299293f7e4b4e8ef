// Package queue provides the fixed-capacity FIFO between the folder watcher
// and the processing loop. Enqueue never blocks: a full queue drops the item.
package queue

import (
	"context"
	"sync/atomic"
	"time"

	inserrors "inspectwatch/errors"
)

// Stats are the lifetime counters of a WorkQueue
type Stats struct {
	Pushed  uint64
	Dropped uint64
	Popped  uint64
}

// WorkQueue is a bounded queue of image paths
type WorkQueue struct {
	items   chan string
	pushed  atomic.Uint64
	dropped atomic.Uint64
	popped  atomic.Uint64
}

// New creates a WorkQueue holding at most capacity paths
func New(capacity int) *WorkQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &WorkQueue{items: make(chan string, capacity)}
}

// TryPush enqueues path without blocking; it returns a QUEUE_FULL error when
// the queue has no free slot
func (q *WorkQueue) TryPush(path string) error {
	select {
	case q.items <- path:
		q.pushed.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return inserrors.QueueFull(path, cap(q.items))
	}
}

// Pop waits at most wait for the next path. The boolean is false when the
// wait elapsed or ctx was cancelled first.
func (q *WorkQueue) Pop(ctx context.Context, wait time.Duration) (string, bool) {
	// Fast path: no timer for a non-empty queue
	select {
	case path := <-q.items:
		q.popped.Add(1)
		return path, true
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case path := <-q.items:
		q.popped.Add(1)
		return path, true
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// Len returns the number of queued paths
func (q *WorkQueue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity
func (q *WorkQueue) Cap() int {
	return cap(q.items)
}

// Stats returns a snapshot of the queue counters
func (q *WorkQueue) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
		Popped:  q.popped.Load(),
	}
}
