package model

import (
	"time"
)

// FileUpload is a file received with a chat request.
type FileUpload struct {
	Name string
	Data []byte
}

// ChatRequest is one incoming chat interaction.
type ChatRequest struct {
	Identity string
	OwnerID  int64
	Text     string
	Files    []FileUpload
}

// ChunkEvent is a streamed reply fragment.
type ChunkEvent struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ReplayCompleteEvent marks the end of an event replay.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}
