// Package cache is the key-value adapter for migration checkpoints and
// other small durable state shared across restarts.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Well-known keys. The offset key predates this service and is shared with
// the importer being phased out, so the exact spelling matters.
const (
	OffsetKey = "lastMigratedAuctionIndex"
)

// PagingStateKey names the stored paging cursor for a hot-store table scan.
func PagingStateKey(table string) string {
	return fmt.Sprintf("cassandra_migration_%s_paging_state", table)
}

// RowOffsetKey names the stored row count for a hot-store table scan.
func RowOffsetKey(table string) string {
	return fmt.Sprintf("cassandra_migration_%s_offset", table)
}

// Cache wraps the redis client with the small typed surface the rest of
// the service needs.
type Cache struct {
	rdb *redis.Client
}

// New connects to the redis instance at addr ("host:port").
func New(addr string) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})}
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetInt64 reads an integer key. The second return is false when the key
// does not exist.
func (c *Cache) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	v, err := c.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return v, true, nil
}

// SetInt64 writes an integer key with no expiry.
func (c *Cache) SetInt64(ctx context.Context, key string, v int64) error {
	if err := c.rdb.Set(ctx, key, v, 0).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// GetString reads a string key. The second return is false when the key
// does not exist. Used for checkpoints this service clears but never
// writes, like the phased-out importer's paging cursors.
func (c *Cache) GetString(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return v, true, nil
}

// Delete removes a key. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: del %s: %w", key, err)
	}
	return nil
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
