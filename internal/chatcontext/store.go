// Package chatcontext keeps a bounded, expiring dialogue window per
// conversation identity.
//
// Every backend rewrites the whole window on each mutation. Writers for the
// same identity are serialized (per-key lock in memory, optimistic
// compare-and-swap against Redis or NATS KV) so no turn is lost; different
// identities never contend.
package chatcontext

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/bill-assistant/internal/model"
)

// KeyPrefix namespaces window keys in shared key-value stores.
const KeyPrefix = "chat:context:"

const (
	DefaultMaxRounds    = 10
	DefaultReplayRounds = 5
	DefaultTTL          = time.Hour

	// maxCASAttempts bounds optimistic retries under heavy contention.
	maxCASAttempts = 16
)

// ErrConflict is returned when a compare-and-swap loop gives up.
var ErrConflict = errors.New("chatcontext: too many concurrent writers")

// Store is the conversation memory.
type Store interface {
	// AppendUser opens a new round, evicting the oldest rounds beyond the cap.
	AppendUser(ctx context.Context, conversationID, text string) error
	// AppendAssistant closes the last open round. Without one it logs a
	// warning and does nothing.
	AppendAssistant(ctx context.Context, conversationID, text string) error
	// RecentTurns flattens the newest maxRounds rounds, oldest first.
	RecentTurns(ctx context.Context, conversationID string, maxRounds int) ([]model.Turn, error)
	// Clear drops the window.
	Clear(ctx context.Context, conversationID string) error
}

// Options bound the window.
type Options struct {
	MaxRounds int
	TTL       time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// Key returns the storage key of a conversation window.
func Key(conversationID string) string {
	return KeyPrefix + conversationID
}
