package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// LocalStore writes blobs below a directory, served elsewhere under domain.
type LocalStore struct {
	dir    string
	domain string
	now    func() time.Time
}

// NewLocalStore creates a filesystem store rooted at dir.
func NewLocalStore(dir, domain string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalStore{dir: dir, domain: domain, now: time.Now}, nil
}

// Dir returns the root directory.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put implements Store.
func (s *LocalStore) Put(ctx context.Context, data []byte, name, mimeType string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := NewKey(s.now(), name)
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write object: %w", err)
	}

	return &Object{
		Key:  key,
		URL:  PublicURL(s.domain, key),
		Size: int64(len(data)),
	}, nil
}

// Delete implements Store.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
