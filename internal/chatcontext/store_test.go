package chatcontext

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/bill-assistant/internal/model"
)

// runStoreSuite checks behaviour shared by every backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T, opts Options) Store) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		s := newStore(t, Options{})
		require.NoError(t, s.AppendUser(ctx, "u1", "hello"))
		require.NoError(t, s.AppendAssistant(ctx, "u1", "hi there"))
		require.NoError(t, s.AppendUser(ctx, "u1", "lunch was 30"))

		turns, err := s.RecentTurns(ctx, "u1", 5)
		require.NoError(t, err)
		assert.Equal(t, []model.Turn{
			{Role: model.RoleUser, Text: "hello"},
			{Role: model.RoleAssistant, Text: "hi there"},
			{Role: model.RoleUser, Text: "lunch was 30"},
		}, turns)
	})

	t.Run("open round survives a failed reply", func(t *testing.T) {
		s := newStore(t, Options{})
		require.NoError(t, s.AppendUser(ctx, "u2", "A"))

		turns, err := s.RecentTurns(ctx, "u2", 5)
		require.NoError(t, err)
		assert.Equal(t, []model.Turn{{Role: model.RoleUser, Text: "A"}}, turns)
	})

	t.Run("assistant without window is a no-op", func(t *testing.T) {
		s := newStore(t, Options{})
		require.NoError(t, s.AppendAssistant(ctx, "ghost", "orphan reply"))

		turns, err := s.RecentTurns(ctx, "ghost", 5)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("assistant without open round is a no-op", func(t *testing.T) {
		s := newStore(t, Options{})
		require.NoError(t, s.AppendUser(ctx, "u3", "q"))
		require.NoError(t, s.AppendAssistant(ctx, "u3", "a1"))
		require.NoError(t, s.AppendAssistant(ctx, "u3", "a2"))

		turns, err := s.RecentTurns(ctx, "u3", 5)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "a1", turns[1].Text)
	})

	t.Run("oldest rounds are evicted first", func(t *testing.T) {
		s := newStore(t, Options{MaxRounds: 10})
		for i := 0; i < 13; i++ {
			require.NoError(t, s.AppendUser(ctx, "u4", fmt.Sprintf("q%d", i)))
			require.NoError(t, s.AppendAssistant(ctx, "u4", fmt.Sprintf("a%d", i)))
		}

		all, err := s.RecentTurns(ctx, "u4", 100)
		require.NoError(t, err)
		require.Len(t, all, 20)
		assert.Equal(t, "q3", all[0].Text)
		assert.Equal(t, "a12", all[19].Text)

		recent, err := s.RecentTurns(ctx, "u4", 5)
		require.NoError(t, err)
		require.Len(t, recent, 10)
		assert.Equal(t, "q8", recent[0].Text)
	})

	t.Run("open rounds count towards the cap", func(t *testing.T) {
		s := newStore(t, Options{MaxRounds: 3})
		for i := 0; i < 5; i++ {
			require.NoError(t, s.AppendUser(ctx, "u5", fmt.Sprintf("q%d", i)))
		}

		turns, err := s.RecentTurns(ctx, "u5", 10)
		require.NoError(t, err)
		require.Len(t, turns, 3)
		assert.Equal(t, "q2", turns[0].Text)
	})

	t.Run("clear removes the window", func(t *testing.T) {
		s := newStore(t, Options{})
		require.NoError(t, s.AppendUser(ctx, "u6", "q"))
		require.NoError(t, s.Clear(ctx, "u6"))
		require.NoError(t, s.Clear(ctx, "never-existed"))

		turns, err := s.RecentTurns(ctx, "u6", 5)
		require.NoError(t, err)
		assert.Empty(t, turns)

		require.NoError(t, s.AppendUser(ctx, "u6", "again"))
		turns, err = s.RecentTurns(ctx, "u6", 5)
		require.NoError(t, err)
		assert.Len(t, turns, 1)
	})

	t.Run("identities are independent", func(t *testing.T) {
		s := newStore(t, Options{})
		require.NoError(t, s.AppendUser(ctx, "alice", "a"))
		require.NoError(t, s.AppendUser(ctx, "bob", "b"))

		turns, err := s.RecentTurns(ctx, "alice", 5)
		require.NoError(t, err)
		assert.Equal(t, []model.Turn{{Role: model.RoleUser, Text: "a"}}, turns)
	})

	t.Run("concurrent writers lose nothing", func(t *testing.T) {
		s := newStore(t, Options{MaxRounds: 100})
		const writers = 12

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.AppendUser(ctx, "busy", fmt.Sprintf("m%d", i)))
			}(i)
		}
		wg.Wait()

		turns, err := s.RecentTurns(ctx, "busy", 100)
		require.NoError(t, err)
		assert.Len(t, turns, writers)
	})
}
