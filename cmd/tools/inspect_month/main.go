// Prints the header and a sample of one sealed archive blob, straight
// from the object store. Useful when a verification failure points at a
// month and you want to see what the blob actually holds.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"skyvault/internal/coldstore"
	"skyvault/internal/config"
)

func main() {
	var (
		tag   string
		year  int
		month int
		limit int
	)
	flag.StringVar(&tag, "tag", "", "item tag (required)")
	flag.IntVar(&year, "year", 0, "blob year (required)")
	flag.IntVar(&month, "month", 0, "blob month 1..12 (required)")
	flag.IntVar(&limit, "limit", 10, "rows to print")
	flag.Parse()

	if tag == "" || year == 0 || month < 1 || month > 12 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[inspect_month] config: %v", err)
	}

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
		log.Fatal("[inspect_month] no cold tier configured (need S3:BUCKET_NAME or WORK_DIR)")
	}
	bucket, err := coldstore.OpenBucket(bucketCfg)
	if err != nil {
		log.Fatalf("[inspect_month] object store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	key := coldstore.BlobKey(tag, year, month)
	rc, err := bucket.Get(ctx, key)
	if err != nil {
		log.Fatalf("[inspect_month] get %s: %v", key, err)
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		log.Fatalf("[inspect_month] read %s: %v", key, err)
	}

	header, headerLen, err := coldstore.ReadHeader(raw)
	if err != nil {
		log.Fatalf("[inspect_month] header of %s: %v", key, err)
	}
	fmt.Printf("blob      %s\n", key)
	fmt.Printf("size      %d bytes (header %d)\n", len(raw), headerLen)
	fmt.Printf("tag       %s\n", header.Tag)
	fmt.Printf("month     %04d-%02d\n", header.Year, header.Month)
	fmt.Printf("count     %d\n", header.Count)

	records, err := coldstore.New(bucket).GetMonth(ctx, tag, year, month)
	if err != nil {
		log.Fatalf("[inspect_month] decode %s: %v", key, err)
	}
	if len(records) != header.Count {
		fmt.Printf("WARNING   decoded %d records, header says %d\n", len(records), header.Count)
	}

	if limit > len(records) {
		limit = len(records)
	}
	fmt.Printf("\n%-36s  %-12s  %-20s  %s\n", "uuid", "price", "end", "seller")
	for _, a := range records[:limit] {
		fmt.Printf("%-36s  %-12d  %-20s  %s\n",
			a.UUID, a.SellPrice(), a.End.UTC().Format(time.RFC3339), a.Seller)
	}
	if len(records) > limit {
		fmt.Printf("... and %d more\n", len(records)-limit)
	}
}
