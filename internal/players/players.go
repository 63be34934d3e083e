// Package players resolves player uuids to display names against the
// external player-name service, memoizing answers for a TTL so the
// overview endpoints do not hammer it.
package players

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const defaultTTL = time.Hour

type entry struct {
	name    string
	fetched time.Time
}

// Client is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	names map[string]entry
}

// New builds a client against the service at base, e.g.
// "https://api.example.net".
func New(base string) *Client {
	return &Client{
		base:  base,
		http:  &http.Client{Timeout: 10 * time.Second},
		ttl:   defaultTTL,
		now:   time.Now,
		names: make(map[string]entry),
	}
}

// Names resolves a batch of uuids. Cached names are always returned; when
// the service call for the rest fails, the cached subset comes back along
// with the error. Unknown uuids are cached as empty so repeated lookups
// do not retry them for a TTL.
func (c *Client) Names(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	var missing []string
	seen := make(map[string]struct{}, len(ids))

	now := c.now()
	c.mu.RLock()
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		if e, ok := c.names[id]; ok && now.Sub(e.fetched) < c.ttl {
			if e.name != "" {
				out[id] = e.name
			}
			continue
		}
		missing = append(missing, id)
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}
	fetched, err := c.fetch(ctx, missing)
	if err != nil {
		return out, err
	}

	c.mu.Lock()
	for _, id := range missing {
		name := fetched[id]
		c.names[id] = entry{name: name, fetched: now}
		if name != "" {
			out[id] = name
		}
	}
	c.mu.Unlock()
	return out, nil
}

func (c *Client) fetch(ctx context.Context, ids []string) (map[string]string, error) {
	body, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/player/names", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "skyvault/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("players: name service status: %s", resp.Status)
	}
	var names map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, fmt.Errorf("players: decode names: %w", err)
	}
	return names, nil
}
