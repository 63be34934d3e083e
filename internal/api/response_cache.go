package api

import (
	"net/http"
	"sync"
	"time"
)

// Hot price endpoints re-serve their JSON for a short window. The key is
// the full path plus query string, so every tag and filter combination
// caches on its own. Callers control that key space, hence the entry cap.
const responseCacheCap = 4096

type responseCache struct {
	mu        sync.Mutex
	entries   map[string]cacheEntry
	lastSweep time.Time
}

type cacheEntry struct {
	body    []byte
	staleAt time.Time
}

var priceResponses = &responseCache{entries: make(map[string]cacheEntry)}

func (c *responseCache) get(key string, now time.Time) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || now.After(e.staleAt) {
		return nil, false
	}
	return e.body, true
}

// put stores a body, sweeping stale entries at most once a minute. When
// the cache is still full after a sweep, new keys are dropped rather than
// evicting live ones: a full cache means a key flood, and flood keys do
// not repeat.
func (c *responseCache) put(key string, body []byte, ttl time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) > time.Minute {
		for k, e := range c.entries {
			if now.After(e.staleAt) {
				delete(c.entries, k)
			}
		}
		c.lastSweep = now
	}
	if len(c.entries) >= responseCacheCap {
		if _, ok := c.entries[key]; !ok {
			return
		}
	}
	c.entries[key] = cacheEntry{body: body, staleAt: now.Add(ttl)}
}

// cachedHandler re-serves the wrapped handler's JSON for ttl. Only 2xx
// bodies are kept, so errors always re-run the handler.
func cachedHandler(ttl time.Duration, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + "?" + r.URL.RawQuery
		now := time.Now()

		if body, ok := priceResponses.get(key, now); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.Write(body)
			return
		}

		rec := &bodyCapture{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		if rec.status/100 == 2 && len(rec.body) > 0 {
			priceResponses.put(key, rec.body, ttl, now)
		}
	}
}

// bodyCapture tees the handler's output so a successful body can be cached
// after it returns. writeJSON streams straight to the ResponseWriter, so
// this is the only place the serialized bytes exist.
type bodyCapture struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (b *bodyCapture) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyCapture) Write(p []byte) (int, error) {
	b.body = append(b.body, p...)
	return b.ResponseWriter.Write(p)
}
