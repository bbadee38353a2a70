package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bull/docindex/internal/storage"
)

const fsBackend = "fs"

// FSStore keeps document bytes under a local directory. It backs the
// embedded deployment where no object store is running.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at dir.
func NewFSStore(dir string) *FSStore {
	return &FSStore{root: dir}
}

// EnsureBucket creates the root directory.
func (s *FSStore) EnsureBucket(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return storage.Wrap(fsBackend, "create bucket", err)
	}
	return nil
}

// Put writes data to root/key atomically and returns key.
func (s *FSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", storage.Wrap(fsBackend, "put", fmt.Errorf("create blob dir: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", storage.Wrap(fsBackend, "put", fmt.Errorf("create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", storage.Wrap(fsBackend, "put", fmt.Errorf("write %s: %w", key, err))
	}
	if err := tmp.Close(); err != nil {
		return "", storage.Wrap(fsBackend, "put", fmt.Errorf("write %s: %w", key, err))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", storage.Wrap(fsBackend, "put", fmt.Errorf("store %s: %w", key, err))
	}
	return key, nil
}

// Get reads the bytes stored under key.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		return nil, storage.Wrap(fsBackend, "get", err)
	}
	return data, nil
}

// Root returns the directory the store writes to.
func (s *FSStore) Root() string {
	return s.root
}
