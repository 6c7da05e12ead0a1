package model

import (
	"time"
)

// EventType represents the type of billing event.
type EventType string

const (
	EventFileUploaded     EventType = "file.uploaded"
	EventFileOrphaned     EventType = "file.orphaned"
	EventBillFiled        EventType = "bill.filed"
	EventExtractionFailed EventType = "bill.extraction_failed"
)

// Event is an ingestion or filing outcome published for the owner's clients
// and for operators.
type Event struct {
	ID        string         `json:"id"`
	OwnerID   int64          `json:"owner_id"`
	Type      EventType      `json:"type"`
	FileID    int64          `json:"file_id,omitempty"`
	BillID    int64          `json:"bill_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Sequence  uint64         `json:"sequence,omitempty"`
}

// ListEventsResponse is the response for listing events.
type ListEventsResponse struct {
	Events       []Event `json:"events"`
	HasMore      bool    `json:"has_more"`
	LastSequence uint64  `json:"last_sequence"`
}
