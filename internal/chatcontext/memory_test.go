package chatcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, opts Options) Store {
		return NewMemoryStore(opts, logger.NewNop())
	})
}

func TestMemoryStoreExpiresIdleWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 5, 19, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(Options{TTL: time.Hour}, logger.NewNop())
	s.now = clock.Now

	require.NoError(t, s.AppendUser(ctx, "u1", "first"))
	clock.Advance(50 * time.Minute)
	require.NoError(t, s.AppendAssistant(ctx, "u1", "reply"))

	// The second write pushed expiry out to 10:50.
	clock.Advance(50 * time.Minute)
	turns, err := s.RecentTurns(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	clock.Advance(11 * time.Minute)
	turns, err = s.RecentTurns(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)

	// Replies to an expired round do not resurrect it.
	require.NoError(t, s.AppendAssistant(ctx, "u1", "late"))
	turns, err = s.RecentTurns(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 5, 19, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(Options{TTL: time.Minute}, logger.NewNop())
	s.now = clock.Now

	require.NoError(t, s.AppendUser(ctx, "old", "x"))
	clock.Advance(2 * time.Minute)
	require.NoError(t, s.AppendUser(ctx, "fresh", "y"))

	assert.Equal(t, 1, s.Sweep())
	assert.Len(t, s.slots, 1)

	turns, err := s.RecentTurns(ctx, "fresh", 5)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}
