package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Kind selects an archive backend.
type Kind string

const (
	KindFS  Kind = "fs"
	KindS3  Kind = "s3"
	KindGCS Kind = "gcs"
)

// NewStoreFromEnv creates an archive store based on environment variables.
//
// Environment variables:
//   - CHRONICLE_ARCHIVE: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: base directory for the filesystem store (default: "data")
//
// For S3:
//   - CHRONICLE_ARCHIVE_S3_BUCKET (required)
//   - CHRONICLE_ARCHIVE_S3_REGION or AWS_REGION
//   - CHRONICLE_ARCHIVE_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - CHRONICLE_ARCHIVE_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - CHRONICLE_ARCHIVE_GCS_BUCKET (required)
//   - CHRONICLE_ARCHIVE_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	kind := Kind(os.Getenv("CHRONICLE_ARCHIVE"))
	if kind == "" {
		kind = KindFS
	}

	switch kind {
	case KindFS:
		return newFileStoreFromEnv()
	case KindS3:
		return newS3StoreFromEnv(ctx)
	case KindGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported archive kind: %s", kind)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "archive"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("CHRONICLE_ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("CHRONICLE_ARCHIVE_S3_BUCKET is required for S3 archive")
	}

	region := os.Getenv("CHRONICLE_ARCHIVE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("CHRONICLE_ARCHIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("CHRONICLE_ARCHIVE_S3_PREFIX"),
	})
}
