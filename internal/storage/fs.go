package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// DirStore keeps blobs as files under a root directory. Used with the sqlite profile.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, common.StorageFailure("create storage root", err)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) path(key string) (string, error) {
	clean := BuildKey(key)
	if clean == "" || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", common.NewAppError(common.CodeInvalidArgument, fmt.Sprintf("invalid key %q", key), common.ErrInvalidInput)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *DirStore) Put(_ context.Context, key string, data []byte, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return common.StorageFailure("create "+key, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return common.StorageFailure("write "+key, err)
	}
	return nil
}

func (s *DirStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, common.NewAppError(common.CodeNotFound, "object not found: "+key, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.StorageFailure("read "+key, err)
	}
	return data, nil
}

func (s *DirStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return common.StorageFailure("delete "+key, err)
	}
	return nil
}

func (s *DirStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, common.StorageFailure("stat "+key, err)
}
