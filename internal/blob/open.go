package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/redactor/internal/gcp"
	"github.com/Veraticus/redactor/internal/service"
)

// Open returns the store for location: "gs://bucket/prefix" selects Cloud
// Storage, "file://dir" or a plain path selects a local directory.
func Open(ctx context.Context, location string, cfg gcp.Config) (service.BlobStore, error) {
	switch {
	case strings.HasPrefix(location, "gs://"):
		rest := strings.TrimPrefix(location, "gs://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid storage location %q", location)
		}
		return NewGCSStore(ctx, cfg, bucket, prefix)
	case strings.HasPrefix(location, "file://"):
		return NewLocalStore(strings.TrimPrefix(location, "file://"))
	default:
		return NewLocalStore(location)
	}
}
