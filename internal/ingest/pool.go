package ingest

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"skyvault/internal/metrics"
)

// DefaultWorkers is the nominal pool size for one queue.
const DefaultWorkers = 100

// Pool drains a queue with a fixed set of workers. A failing task is
// re-enqueued at the tail and the worker sleeps 100ms times the number
// of consecutive failures across the whole pool; any success resets the
// counter. Nothing is ever dropped.
type Pool struct {
	queue *Queue
	size  int
	delay time.Duration

	errCount atomic.Int64
}

func NewPool(q *Queue, size int) *Pool {
	if size <= 0 {
		size = DefaultWorkers
	}
	return &Pool{queue: q, size: size, delay: 100 * time.Millisecond}
}

// Run blocks until ctx is done and every worker has returned.
func (p *Pool) Run(ctx context.Context) {
	log.Printf("[ingest] %s pool: %d workers", p.queue.name, p.size)
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	for {
		t, ok := p.queue.Pop(ctx)
		if !ok {
			return
		}
		if err := t.Run(ctx); err != nil {
			n := p.errCount.Add(1)
			metrics.IngestErrors.WithLabelValues(t.Name).Inc()
			log.Printf("[ingest] %s failed, re-enqueued (%d consecutive errors): %v", t.Name, n, err)
			p.queue.Push(t)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(n) * p.delay):
			}
			continue
		}
		p.errCount.Store(0)
	}
}
