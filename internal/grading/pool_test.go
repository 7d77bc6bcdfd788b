package grading

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsJobs(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
		wg   sync.WaitGroup
	)
	wg.Add(3)
	p := NewPool(2, 8, func(_ context.Context, token string) error {
		mu.Lock()
		seen = append(seen, token)
		mu.Unlock()
		wg.Done()
		return nil
	})
	p.Start(context.Background())
	defer p.Stop()

	for _, tok := range []string{"a", "b", "c"} {
		require.True(t, p.Enqueue(tok))
	}
	wg.Wait()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}

func TestPoolDeduplicatesTokens(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 4)
	p := NewPool(1, 4, func(_ context.Context, token string) error {
		started <- token
		<-release
		return nil
	})
	p.Start(context.Background())
	defer p.Stop()
	defer close(release)

	require.True(t, p.Enqueue("busy"))
	assert.Equal(t, "busy", <-started)

	assert.False(t, p.Enqueue("busy"), "a running token is not queued again")

	// The worker is occupied; "t1" waits in the queue.
	assert.True(t, p.Enqueue("t1"))
	assert.False(t, p.Enqueue("t1"), "a queued token is not queued twice")
	assert.Equal(t, 2, p.Pending())
}

func TestPoolQueueFull(t *testing.T) {
	p := NewPool(1, 1, func(context.Context, string) error { return nil })
	// Not started: nothing drains the queue.
	assert.True(t, p.Enqueue("a"))
	assert.False(t, p.Enqueue("b"))
}

func TestPoolStopCancelsWorkers(t *testing.T) {
	p := NewPool(2, 2, func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p.Start(context.Background())
	p.Enqueue("x")

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
