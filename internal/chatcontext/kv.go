package chatcontext

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

// kvKeyPrefix replaces KeyPrefix because KV keys may not contain ':'.
const kvKeyPrefix = "chat.context."

// KVStore keeps windows in a JetStream key-value bucket. The bucket TTL is the
// window TTL: every write is a fresh revision, so the age restarts on each
// write. Updates are revision-checked and retried on conflict.
type KVStore struct {
	kv     jetstream.KeyValue
	opts   Options
	logger *logger.Logger
	now    func() time.Time
}

// NewKVStore creates a store on an existing bucket. Options.TTL is informative;
// expiry is enforced by the bucket configuration.
func NewKVStore(kv jetstream.KeyValue, opts Options, log *logger.Logger) *KVStore {
	return &KVStore{
		kv:     kv,
		opts:   opts.withDefaults(),
		logger: log,
		now:    time.Now,
	}
}

// KVKey encodes an identity into the restricted KV key alphabet.
func KVKey(conversationID string) string {
	return kvKeyPrefix + base64.RawURLEncoding.EncodeToString([]byte(conversationID))
}

func (s *KVStore) load(ctx context.Context, key string) (*model.Window, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read window: %w", err)
	}

	var w model.Window
	if err := json.Unmarshal(entry.Value(), &w); err != nil {
		s.logger.Warn("discarding unreadable conversation window", zap.String("key", key), zap.Error(err))
		return nil, entry.Revision(), nil
	}
	return &w, entry.Revision(), nil
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *KVStore) mutate(ctx context.Context, conversationID string, fn mutation) error {
	key := KVKey(conversationID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		w, revision, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		next, err := fn(w)
		if err != nil || next == nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode window: %w", err)
		}

		if revision == 0 {
			_, err = s.kv.Create(ctx, key, data)
		} else {
			_, err = s.kv.Update(ctx, key, data, revision)
		}
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("failed to write window: %w", err)
		}
	}
	return ErrConflict
}

// AppendUser implements Store.
func (s *KVStore) AppendUser(ctx context.Context, conversationID, text string) error {
	return s.mutate(ctx, conversationID, appendUserMutation(text, s.opts.MaxRounds, s.now()))
}

// AppendAssistant implements Store.
func (s *KVStore) AppendAssistant(ctx context.Context, conversationID, text string) error {
	err := s.mutate(ctx, conversationID, appendAssistantMutation(text, s.now()))
	if apperr.Is(err, apperr.KindState) {
		s.logger.Warn("assistant reply without open round, ignored",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

// RecentTurns implements Store.
func (s *KVStore) RecentTurns(ctx context.Context, conversationID string, maxRounds int) ([]model.Turn, error) {
	w, _, err := s.load(ctx, KVKey(conversationID))
	if err != nil {
		return nil, err
	}
	return flatten(w, maxRounds), nil
}

// Clear implements Store.
func (s *KVStore) Clear(ctx context.Context, conversationID string) error {
	err := s.kv.Delete(ctx, KVKey(conversationID))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to clear window: %w", err)
	}
	return nil
}
