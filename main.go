package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"skyvault/internal/api"
	"skyvault/internal/archive"
	"skyvault/internal/bus"
	"skyvault/internal/cache"
	"skyvault/internal/coldstore"
	"skyvault/internal/config"
	"skyvault/internal/export"
	"skyvault/internal/feed"
	"skyvault/internal/hotstore"
	"skyvault/internal/ingest"
	"skyvault/internal/legacy"
	"skyvault/internal/models"
	"skyvault/internal/players"
	"skyvault/internal/query"
	"skyvault/internal/tier"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	// 1. Config
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	api.BuildCommit = BuildCommit

	log.Println("Initializing SkyVault...")
	log.Printf("Cassandra: %v keyspace=%s", cfg.CassandraHosts, cfg.CassandraKeyspace)
	log.Printf("Redis: %s", cfg.RedisHost)
	log.Printf("API Port: %d", cfg.APIPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Hot store (creates keyspace and tables when missing)
	hot, err := hotstore.New(hotstore.Config{
		Hosts:             cfg.CassandraHosts,
		Keyspace:          cfg.CassandraKeyspace,
		User:              cfg.CassandraUser,
		Password:          cfg.CassandraPassword,
		ReplicationClass:  cfg.ReplicationClass,
		ReplicationFactor: cfg.ReplicationFactor,
		CAPaths:           cfg.CassandraCAPaths,
	})
	if err != nil {
		log.Fatalf("Failed to connect to Cassandra: %v", err)
	}
	defer hot.Close()

	// 3. Cold store: s3 when a bucket is configured, else the local
	// work dir, else the cold tier stays off.
	bucketCfg := coldstore.BucketConfig{
		BucketName: cfg.S3Bucket,
		Endpoint:   cfg.S3Endpoint,
		Region:     cfg.S3Region,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		Insecure:   cfg.S3Insecure,
		Dir:        cfg.WorkDir,
	}
	switch {
	case cfg.S3Bucket != "":
		bucketCfg.Backend = "s3"
	case cfg.WorkDir != "":
		bucketCfg.Backend = "filesystem"
	}
	bucket, err := coldstore.OpenBucket(bucketCfg)
	if err != nil {
		log.Fatalf("Failed to open object store: %v", err)
	}
	var cold *coldstore.Store
	if bucket != nil {
		cold = coldstore.New(bucket)
		log.Printf("Cold tier: %s", bucketCfg.Backend)
	} else {
		log.Println("Cold tier is DISABLED (no S3 bucket or work dir configured)")
	}

	// 4. Cache. Losing redis degrades the import checkpoint, nothing else,
	// so a failed ping is a warning rather than a crash.
	kv := cache.New(cfg.RedisHost)
	defer kv.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := kv.Ping(pingCtx); err != nil {
		log.Printf("Warning: redis unreachable: %v", err)
	}
	cancelPing()

	// 5. Legacy relational store (optional)
	var sqlStore *legacy.Store
	if cfg.DBURL != "" {
		sqlStore, err = legacy.New(cfg.DBURL)
		if err != nil {
			log.Fatalf("Failed to open legacy db: %v", err)
		}
		defer sqlStore.Close()
		pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
		err = sqlStore.Ping(pingCtx)
		cancelPing()
		if err != nil {
			log.Fatalf("Legacy db unreachable: %v", err)
		}
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			log.Fatalf("Legacy db migration failed: %v", err)
		}
	} else {
		log.Println("Legacy SQL store is DISABLED (DB_URL unset); restore and history migration unavailable")
	}

	// 6. Query plumbing
	router := tier.NewRouter(hot, cold, cfg.RetentionMonths)
	var resolver query.PlayerResolver
	if cfg.PlayerNameURL != "" {
		resolver = players.New(cfg.PlayerNameURL)
	}
	engine := query.NewEngine(hot, router, resolver)

	// 7. Import checkpoint
	var offsets *ingest.OffsetTracker
	loadCtx, cancelLoad := context.WithTimeout(ctx, 5*time.Second)
	offsets, err = ingest.NewOffsetTracker(loadCtx, kv, bus.DefaultBatch)
	cancelLoad()
	if err != nil {
		log.Printf("Warning: import offset unavailable: %v", err)
		offsets = nil
	}

	// 8. Live feed for the websocket
	liveFeed := feed.New()
	defer liveFeed.Close()

	// 9. Archive migrator
	var migrator *archive.Migrator
	if cold != nil {
		migrator = archive.NewMigrator(hot, cold, cfg.RetentionMonths, cfg.ArchiveDryRun)
	}

	// 10. API server. Nil interface fields stay nil so the routes answer
	// 503 instead of calling through a nil pointer.
	if cfg.AdminJWTSecret == "" {
		log.Println("Admin guard is DISABLED (ADMIN_JWT_SECRET unset); mutating endpoints are open")
	}
	deps := api.Deps{
		Engine:      engine,
		Exporter:    export.NewExporter(engine),
		Feed:        liveFeed,
		AdminSecret: cfg.AdminJWTSecret,
		Retention:   cfg.RetentionMonths,
	}
	if cold != nil {
		deps.Archive = cold
		deps.Migrator = migrator
	}
	if sqlStore != nil {
		deps.Restore = archive.NewRestore(router, sqlStore)
	}
	if offsets != nil {
		deps.Offsets = offsets
	}
	apiServer := api.NewServer(strconv.Itoa(cfg.APIPort), deps)

	// Handle SIGINT/SIGTERM — will block on sigChan at end of main()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting API server on :%d", cfg.APIPort)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	var wg sync.WaitGroup

	// 11. Live ingest from the bus
	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := bus.NewConsumer(bus.Config{
			Brokers:   cfg.KafkaBrokers,
			SoldTopic: cfg.SoldTopic,
			NewTopic:  cfg.NewTopic,
		})
		if err != nil {
			log.Fatalf("Failed to build bus consumer: %v", err)
		}
		sells := ingest.NewSellConsumer(hot)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer consumer.Close()
			for {
				err := consumer.Run(ctx, func(ctx context.Context, batch []models.Auction) error {
					if err := sells.InsertSells(ctx, batch); err != nil {
						return err
					}
					liveFeed.PublishBatch(batch)
					return nil
				})
				if ctx.Err() != nil {
					return
				}
				log.Printf("Bus consumer stopped: %v; restarting in 5s", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
		}()
	} else {
		log.Println("Bus consumer is DISABLED (no Kafka brokers configured)")
	}

	// 12. Historical migration out of the legacy database
	if cfg.RunHistoryMigration {
		if sqlStore == nil {
			log.Fatalf("RUN_HISTORY_MIGRATION requires DB_URL")
		}
		if offsets == nil {
			log.Fatalf("RUN_HISTORY_MIGRATION requires a reachable redis for the import offset")
		}

		auctionQ := ingest.NewQueue("auctions")
		bidQ := ingest.NewQueue("bids")
		for _, q := range []*ingest.Queue{auctionQ, bidQ} {
			pool := ingest.NewPool(q, ingest.DefaultWorkers)
			wg.Add(1)
			go func() {
				defer wg.Done()
				pool.Run(ctx)
			}()
		}

		hist := ingest.NewHistorical(sqlStore, hot, auctionQ, bidQ, offsets)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hist.Run(ctx); err != nil {
				if ctx.Err() == nil {
					log.Printf("History migration stopped: %v", err)
				}
				return
			}
			log.Println("History migration complete; live ingest continues")
		}()
	}

	// 13. Archive migrator ticker
	if migrator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			migrator.Start(ctx, time.Duration(cfg.ArchiveIntervalHours)*time.Hour)
		}()
	} else {
		log.Println("Archive migrator is DISABLED (cold tier off)")
	}

	// Block until shutdown signal. The API also serves with zero workers
	// (query-only mode).
	<-sigChan
	log.Println("Shutting down...")
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	apiServer.Shutdown(shutCtx)
	cancelShut()
	cancel()
	wg.Wait()
}
