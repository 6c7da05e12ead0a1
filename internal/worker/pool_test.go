package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(3, 10, time.Second, logger.NewNop())
	p.Start()

	var mu sync.Mutex
	seen := map[int]bool{}
	for i := 0; i < 8; i++ {
		i := i
		ok := p.Submit(Task{Name: "count", Run: func(ctx context.Context) error {
			mu.Lock()
			seen[i] = true
			mu.Unlock()
			return nil
		}})
		require.True(t, ok)
	}
	require.True(t, p.Submit(Task{Name: "fail", Run: func(ctx context.Context) error {
		return errors.New("boom")
	}}))
	require.True(t, p.Submit(Task{Name: "panic", Run: func(ctx context.Context) error {
		panic("bad input")
	}}))

	p.Stop(context.Background())

	assert.Len(t, seen, 8)
	stats := p.Stats()
	assert.Equal(t, uint64(10), stats.Processed)
	assert.Equal(t, uint64(2), stats.Failed)
}

func TestPoolDropsWhenFullOrStopped(t *testing.T) {
	p := NewPool(1, 1, time.Second, logger.NewNop())
	release := make(chan struct{})
	started := make(chan struct{})
	p.Start()

	require.True(t, p.Submit(Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.True(t, p.Submit(Task{Name: "queued", Run: func(ctx context.Context) error { return nil }}))
	assert.False(t, p.Submit(Task{Name: "overflow", Run: func(ctx context.Context) error { return nil }}))

	close(release)
	p.Stop(context.Background())
	assert.False(t, p.Submit(Task{Name: "late", Run: func(ctx context.Context) error { return nil }}))

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Processed)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestPoolTaskTimeout(t *testing.T) {
	p := NewPool(1, 1, 20*time.Millisecond, logger.NewNop())
	p.Start()

	errCh := make(chan error, 1)
	p.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}})
	p.Stop(context.Background())

	assert.ErrorIs(t, <-errCh, context.DeadlineExceeded)
}
