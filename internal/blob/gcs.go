package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"google.golang.org/api/googleapi"
	storageapi "google.golang.org/api/storage/v1"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/gcp"
)

// GCSStore keeps blobs as objects in a Cloud Storage bucket under a prefix.
type GCSStore struct {
	api    *storageapi.Service
	bucket string
	prefix string
}

// NewGCSStore creates a store for bucket with credentials from cfg.
func NewGCSStore(ctx context.Context, cfg gcp.Config, bucket, prefix string) (*GCSStore, error) {
	opts, err := gcp.ClientOptions(ctx, cfg, storageapi.DevstorageReadWriteScope)
	if err != nil {
		return nil, err
	}
	api, err := storageapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create storage service: %w", err)
	}
	return NewGCSStoreWithAPI(api, bucket, prefix)
}

// NewGCSStoreWithAPI wraps an existing API client.
func NewGCSStoreWithAPI(api *storageapi.Service, bucket, prefix string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", common.ErrMissingConfig)
	}
	return &GCSStore{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *GCSStore) object(id string) string {
	if s.prefix == "" {
		return id
	}
	return path.Join(s.prefix, id)
}

// Fetch downloads an object. Missing objects return common.ErrNotFound.
func (s *GCSStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.api.Objects.Get(s.bucket, s.object(id)).Context(ctx).Download()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("blob %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download gs://%s/%s: %w", s.bucket, s.object(id), err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucket, s.object(id), err)
	}
	return data, nil
}

// Store uploads an object, replacing any existing one.
func (s *GCSStore) Store(ctx context.Context, id string, data []byte) error {
	obj := &storageapi.Object{
		Name:        s.object(id),
		ContentType: http.DetectContentType(data),
	}
	_, err := s.api.Objects.Insert(s.bucket, obj).Media(bytes.NewReader(data)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to upload gs://%s/%s: %w", s.bucket, obj.Name, err)
	}
	return nil
}
