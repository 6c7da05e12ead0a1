package model

import (
	"time"
)

// UploadedFile is the persisted record of a stored blob.
type UploadedFile struct {
	ID           int64     `json:"id"`
	OwnerID      int64     `json:"owner_id"`
	OriginalName string    `json:"original_name"`
	StorageKey   string    `json:"storage_key"`
	StorageURL   string    `json:"storage_url"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Deleted      bool      `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
