// Package blob stages job inputs and outputs in object storage: a local
// directory or a Google Cloud Storage bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Veraticus/redactor/internal/common"
)

// LocalStore keeps blobs as files under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at dir, creating it when missing.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: blob directory is required", common.ErrMissingConfig)
	}
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob directory: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStore{root: absPath}, nil
}

// Root returns the absolute root directory.
func (s *LocalStore) Root() string {
	return s.root
}

// path maps an id onto a file under root. Ids may not escape the root.
func (s *LocalStore) path(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("blob id is required")
	}
	full := filepath.Join(s.root, filepath.FromSlash(id))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("blob id %q escapes the store root", id)
	}
	return full, nil
}

// Fetch reads a blob. Missing blobs return common.ErrNotFound.
func (s *LocalStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full) //nolint:gosec // path is confined to the store root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return data, nil
}

// Store writes a blob through a temporary file in the target directory so
// readers never observe a partial write.
func (s *LocalStore) Store(ctx context.Context, id string, data []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.path(id)
	if err != nil {
		return err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(full)+"*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to flush temporary file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err = os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("failed to move blob into place: %w", err)
	}
	return nil
}
