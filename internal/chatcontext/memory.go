package chatcontext

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

// MemoryStore keeps windows in process memory.
type MemoryStore struct {
	opts   Options
	logger *logger.Logger
	now    func() time.Time

	mu    sync.Mutex // guards slots, never held together with a slot lock
	slots map[string]*slot
}

type slot struct {
	mu        sync.Mutex
	window    *model.Window
	expiresAt time.Time
	dead      bool
}

// NewMemoryStore creates an in-process store.
func NewMemoryStore(opts Options, log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		opts:   opts.withDefaults(),
		logger: log,
		now:    time.Now,
		slots:  make(map[string]*slot),
	}
}

// acquire returns the locked slot for id, creating it if needed.
func (s *MemoryStore) acquire(id string) *slot {
	for {
		s.mu.Lock()
		sl, ok := s.slots[id]
		if !ok {
			sl = &slot{}
			s.slots[id] = sl
		}
		s.mu.Unlock()

		sl.mu.Lock()
		if !sl.dead {
			return sl
		}
		// Swept between lookup and lock; take a fresh slot.
		sl.mu.Unlock()
	}
}

func (s *MemoryStore) mutate(id string, fn mutation) error {
	sl := s.acquire(id)
	defer sl.mu.Unlock()

	now := s.now()
	if sl.window != nil && !now.Before(sl.expiresAt) {
		sl.window = nil
	}

	w, err := fn(sl.window)
	if err != nil {
		return err
	}
	if w != nil {
		sl.window = w
		sl.expiresAt = now.Add(s.opts.TTL)
	}
	return nil
}

// AppendUser implements Store.
func (s *MemoryStore) AppendUser(_ context.Context, conversationID, text string) error {
	return s.mutate(conversationID, appendUserMutation(text, s.opts.MaxRounds, s.now()))
}

// AppendAssistant implements Store.
func (s *MemoryStore) AppendAssistant(_ context.Context, conversationID, text string) error {
	err := s.mutate(conversationID, appendAssistantMutation(text, s.now()))
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
func (s *MemoryStore) RecentTurns(_ context.Context, conversationID string, maxRounds int) ([]model.Turn, error) {
	sl := s.acquire(conversationID)
	defer sl.mu.Unlock()

	if sl.window == nil || !s.now().Before(sl.expiresAt) {
		return []model.Turn{}, nil
	}
	return flatten(sl.window, maxRounds), nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, conversationID string) error {
	sl := s.acquire(conversationID)
	sl.window = nil
	sl.mu.Unlock()
	return nil
}

// Sweep drops expired and empty windows. Slots busy with a writer are left for
// the next pass.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sl := range s.slots {
		if !sl.mu.TryLock() {
			continue
		}
		if sl.window == nil || !now.Before(sl.expiresAt) {
			sl.dead = true
			delete(s.slots, id)
			removed++
		}
		sl.mu.Unlock()
	}
	return removed
}

// Run sweeps periodically until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("swept idle conversation windows", zap.Int("count", n))
			}
		}
	}
}
