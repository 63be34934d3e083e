// Resets the historical import checkpoint. With -to the offset jumps to
// the given row id; without it the key is deleted and the next run starts
// from the beginning. With -table the tool instead clears the paging
// checkpoints the phased-out table importer left behind for that cassandra
// table. Re-imported rows are absorbed by the hot store's exists-check, so
// rewinding is safe, just slow.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"skyvault/internal/cache"
	"skyvault/internal/config"
)

func main() {
	var (
		to    int64
		table string
	)
	flag.Int64Var(&to, "to", -1, "offset to set; negative deletes the checkpoint")
	flag.StringVar(&table, "table", "", "clear the old importer's paging checkpoints for this table instead")
	flag.Parse()

	if table != "" && to >= 0 {
		log.Fatalf("[reset_offset] -to does not apply to -table: a paging cursor cannot be synthesized")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[reset_offset] config: %v", err)
	}

	kv := cache.New(cfg.RedisHost)
	defer kv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := kv.Ping(ctx); err != nil {
		log.Fatalf("[reset_offset] redis %s: %v", cfg.RedisHost, err)
	}

	if table != "" {
		resetTable(ctx, kv, table)
		return
	}

	if to < 0 {
		if err := kv.Delete(ctx, cache.OffsetKey); err != nil {
			log.Fatalf("[reset_offset] delete %s: %v", cache.OffsetKey, err)
		}
		fmt.Printf("Deleted %s. The next migration run starts from row 0.\n", cache.OffsetKey)
		return
	}

	if err := kv.SetInt64(ctx, cache.OffsetKey, to); err != nil {
		log.Fatalf("[reset_offset] set %s: %v", cache.OffsetKey, err)
	}
	fmt.Printf("Set %s = %d.\n", cache.OffsetKey, to)
}

// resetTable drops the per-table scan state of the importer this service
// replaced. The keys outlive that importer, and a stale cursor makes its
// next run silently skip everything before the old position.
func resetTable(ctx context.Context, kv *cache.Cache, table string) {
	stateKey := cache.PagingStateKey(table)
	if state, ok, err := kv.GetString(ctx, stateKey); err != nil {
		log.Fatalf("[reset_offset] read %s: %v", stateKey, err)
	} else if ok {
		fmt.Printf("Found %d bytes of paging state under %s.\n", len(state), stateKey)
	}

	rowKey := cache.RowOffsetKey(table)
	if rows, ok, err := kv.GetInt64(ctx, rowKey); err != nil {
		log.Fatalf("[reset_offset] read %s: %v", rowKey, err)
	} else if ok {
		fmt.Printf("Importer had counted %d rows for %q.\n", rows, table)
	}

	for _, key := range []string{stateKey, rowKey} {
		if err := kv.Delete(ctx, key); err != nil {
			log.Fatalf("[reset_offset] delete %s: %v", key, err)
		}
	}
	fmt.Printf("Cleared paging checkpoints for table %q.\n", table)
}
