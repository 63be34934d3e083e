package coldstore

import (
	"fmt"
	"os"

	gokitlog "github.com/go-kit/log"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/filesystem"
	"github.com/thanos-io/objstore/providers/s3"
)

// BucketConfig selects and configures the object-store backend. An empty
// backend disables the cold tier entirely.
type BucketConfig struct {
	Backend string // "s3", "filesystem" or ""

	// s3 backend
	BucketName string
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	Insecure   bool

	// filesystem backend
	Dir string
}

// OpenBucket builds the configured bucket client. The client library wants
// a go-kit logger, so one is adapted over stderr.
func OpenBucket(cfg BucketConfig) (objstore.Bucket, error) {
	logger := gokitlog.NewLogfmtLogger(os.Stderr)
	switch cfg.Backend {
	case "s3":
		return s3.NewBucketWithConfig(logger, s3.Config{
			Bucket:    cfg.BucketName,
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Insecure:  cfg.Insecure,
		}, "skyvault")
	case "filesystem":
		return filesystem.NewBucket(cfg.Dir)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("coldstore: unknown backend %q", cfg.Backend)
	}
}
