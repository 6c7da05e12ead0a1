// Package storage puts uploaded files into a blob store.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when deleting a key that holds no object.
var ErrNotFound = errors.New("storage: object not found")

// Object describes a stored blob.
type Object struct {
	Key  string
	URL  string
	Size int64
}

// Store is a blob store.
type Store interface {
	// Put stores data under a fresh key derived from name.
	Put(ctx context.Context, data []byte, name, mimeType string) (*Object, error)
	// Delete removes key, returning ErrNotFound when nothing was there.
	Delete(ctx context.Context, key string) error
}

// KeyPrefix is the top-level folder of uploaded invoices.
const KeyPrefix = "invoice"

// NewKey returns invoice/yyyy/MM/dd/<uuid without dashes>.<ext>.
func NewKey(now time.Time, name string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	key := path.Join(KeyPrefix, now.Format("2006/01/02"), id)
	if ext := Extension(name); ext != "" {
		key += "." + ext
	}
	return key
}

// PublicURL joins the public domain and a key.
func PublicURL(domain, key string) string {
	return strings.TrimRight(domain, "/") + "/" + key
}
