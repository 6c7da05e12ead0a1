// Package model defines data structures for the bill assistant.
package model

import (
	"time"
)

// Role represents the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one immutable utterance in a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Round is a user turn plus its reply. Assistant is nil while the round is open.
type Round struct {
	User      string  `json:"user"`
	Assistant *string `json:"assistant,omitempty"`
}

// Open reports whether the round is still waiting for its reply.
func (r Round) Open() bool {
	return r.Assistant == nil
}

// Window is the rolling dialogue memory kept for one conversation identity.
type Window struct {
	Rounds    []Round   `json:"rounds"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastOpen returns the index of the last round if it is open, or -1.
func (w *Window) LastOpen() int {
	if w == nil || len(w.Rounds) == 0 {
		return -1
	}
	last := len(w.Rounds) - 1
	if !w.Rounds[last].Open() {
		return -1
	}
	return last
}
