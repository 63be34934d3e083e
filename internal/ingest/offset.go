package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"skyvault/internal/cache"
	"skyvault/internal/metrics"
)

// Checkpoints persists the import offset between runs.
type Checkpoints interface {
	GetInt64(ctx context.Context, key string) (int64, bool, error)
	SetInt64(ctx context.Context, key string, v int64) error
}

// OffsetTracker is the process-wide import checkpoint: an atomic value
// with debounced write-through to the cache. Its meaning is "all source
// rows with id below the offset have been enqueued".
//
// Writers hold mu across the in-memory update and the persist, so the
// sequence of values reaching the cache never goes backward even when
// checkpoint tasks run on many workers. Current stays lock-free.
type OffsetTracker struct {
	mu       sync.Mutex
	current  atomic.Int64
	debounce int64
	store    Checkpoints
}

// NewOffsetTracker loads the persisted offset. batch sizes the debounce
// window: advances of ten batches or fewer are not persisted.
func NewOffsetTracker(ctx context.Context, store Checkpoints, batch int64) (*OffsetTracker, error) {
	if batch <= 0 {
		batch = 1
	}
	t := &OffsetTracker{debounce: 10 * batch, store: store}
	v, ok, err := store.GetInt64(ctx, cache.OffsetKey)
	if err != nil {
		return nil, fmt.Errorf("ingest: load offset: %w", err)
	}
	if ok {
		t.current.Store(v)
		metrics.ImportOffset.Set(float64(v))
	}
	return t, nil
}

func (t *OffsetTracker) Current() int64 {
	return t.current.Load()
}

// Advance moves the offset forward. Backward moves and moves smaller than
// the debounce window are ignored, so the persisted value only ever grows
// and in strides.
func (t *OffsetTracker) Advance(ctx context.Context, n int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.current.Load()
	if n <= cur || n-cur <= t.debounce {
		return nil
	}
	t.current.Store(n)
	metrics.ImportOffset.Set(float64(n))
	return t.store.SetInt64(ctx, cache.OffsetKey, n)
}

// Set overrides the offset unconditionally. This is the admin path for
// replaying a window; normal operation goes through Advance.
func (t *OffsetTracker) Set(ctx context.Context, n int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Store(n)
	metrics.ImportOffset.Set(float64(n))
	return t.store.SetInt64(ctx, cache.OffsetKey, n)
}
