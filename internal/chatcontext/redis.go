package chatcontext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

// RedisStore keeps windows in Redis with a key TTL. Updates run inside
// WATCH/MULTI so a concurrent writer forces a retry instead of a lost turn.
type RedisStore struct {
	rdb    redis.UniversalClient
	opts   Options
	logger *logger.Logger
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb redis.UniversalClient, opts Options, log *logger.Logger) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		opts:   opts.withDefaults(),
		logger: log,
		now:    time.Now,
	}
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c stringGetter, key string) (*model.Window, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read window: %w", err)
	}

	var w model.Window
	if err := json.Unmarshal(data, &w); err != nil {
		// A corrupt value is treated as an empty window and overwritten.
		s.logger.Warn("discarding unreadable conversation window", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &w, nil
}

func (s *RedisStore) mutate(ctx context.Context, conversationID string, fn mutation) error {
	key := Key(conversationID)

	txf := func(tx *redis.Tx) error {
		w, err := s.load(ctx, tx, key)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.opts.TTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// AppendUser implements Store.
func (s *RedisStore) AppendUser(ctx context.Context, conversationID, text string) error {
	return s.mutate(ctx, conversationID, appendUserMutation(text, s.opts.MaxRounds, s.now()))
}

// AppendAssistant implements Store.
func (s *RedisStore) AppendAssistant(ctx context.Context, conversationID, text string) error {
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
func (s *RedisStore) RecentTurns(ctx context.Context, conversationID string, maxRounds int) ([]model.Turn, error) {
	w, err := s.load(ctx, s.rdb, Key(conversationID))
	if err != nil {
		return nil, err
	}
	return flatten(w, maxRounds), nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, conversationID string) error {
	if err := s.rdb.Del(ctx, Key(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to clear window: %w", err)
	}
	return nil
}
