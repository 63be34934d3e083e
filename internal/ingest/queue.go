// Package ingest moves auctions from the bus and the legacy database into
// the hot store: an unbounded work queue, a worker pool with shared
// backoff, per-tag micro-batching and a durable import offset.
package ingest

import (
	"context"
	"sync"

	"skyvault/internal/metrics"
)

// Task is one deferred unit of ingest work. Run must be safe to retry;
// a failing task goes back to the tail of its queue.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue is an unbounded FIFO of tasks, safe for concurrent use. Pop
// blocks until a task arrives or ctx is done.
type Queue struct {
	name string

	mu    sync.Mutex
	items []Task
	wake  chan struct{}
}

func NewQueue(name string) *Queue {
	return &Queue{name: name, wake: make(chan struct{}, 1)}
}

func (q *Queue) Push(t Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	n := len(q.items)
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(n))
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Pop(ctx context.Context) (Task, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items = q.items[1:]
			n := len(q.items)
			if n == 0 {
				q.items = nil // release the backing array
			}
			q.mu.Unlock()

			metrics.QueueDepth.WithLabelValues(q.name).Set(float64(n))
			if n > 0 {
				select {
				case q.wake <- struct{}{}:
				default:
				}
			}
			return t, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Task{}, false
		case <-q.wake:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
