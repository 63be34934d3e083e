// Runs one hot-to-cold archival pass and exits. The service runs the same
// pass on a ticker; this tool exists for backfills and for rehearsing a
// retention change with -dry-run before letting the service delete rows.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skyvault/internal/archive"
	"skyvault/internal/coldstore"
	"skyvault/internal/config"
	"skyvault/internal/hotstore"
)

func main() {
	var (
		dryRun    bool
		retention int
	)
	flag.BoolVar(&dryRun, "dry-run", false, "seal and verify months but delete nothing")
	flag.IntVar(&retention, "retention", 0, "override RETENTION_MONTHS for this pass")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[migrate_archive] config: %v", err)
	}
	if retention > 0 {
		cfg.RetentionMonths = retention
	}

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
		log.Fatalf("[migrate_archive] cassandra: %v", err)
	}
	defer hot.Close()

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
	default:
		log.Fatal("[migrate_archive] no cold tier configured (need S3:BUCKET_NAME or WORK_DIR)")
	}
	bucket, err := coldstore.OpenBucket(bucketCfg)
	if err != nil {
		log.Fatalf("[migrate_archive] object store: %v", err)
	}
	cold := coldstore.New(bucket)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[migrate_archive] interrupted, stopping; unverified months stay hot")
		cancel()
	}()

	started := time.Now()
	m := archive.NewMigrator(hot, cold, cfg.RetentionMonths, dryRun)
	if err := m.RunOnce(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("[migrate_archive] pass interrupted after %s; rerun to resume", time.Since(started).Round(time.Second))
			os.Exit(130)
		}
		log.Fatalf("[migrate_archive] pass failed after %s: %v", time.Since(started).Round(time.Second), err)
	}
	log.Printf("[migrate_archive] pass complete in %s (retention=%d months, dry_run=%v)",
		time.Since(started).Round(time.Second), cfg.RetentionMonths, dryRun)
}
