//go:build gcp

package archive

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("CHRONICLE_ARCHIVE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("CHRONICLE_ARCHIVE_GCS_BUCKET is required for GCS archive")
	}

	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("CHRONICLE_ARCHIVE_GCS_PREFIX"),
	})
}
