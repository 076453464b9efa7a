package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPool_GoAndCancel(t *testing.T) {
	p := NewRunPool()
	started := make(chan struct{})
	stopped := make(chan error, 1)

	require.NoError(t, p.Go(context.Background(), "run-1", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
	}))
	<-started
	assert.Equal(t, []string{"run-1"}, p.Active())

	var execErr *AgentExecutorError
	require.ErrorAs(t, p.Go(context.Background(), "run-1", func(context.Context) {}), &execErr)

	assert.True(t, p.Cancel("run-1"))
	assert.ErrorIs(t, <-stopped, context.Canceled)
	require.Eventually(t, func() bool { return len(p.Active()) == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, p.Cancel("run-1"))
}

func TestRunPool_OutlivesRequestContext(t *testing.T) {
	p := NewRunPool()
	reqCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	require.NoError(t, p.Go(reqCtx, "run-1", func(ctx context.Context) {
		cancel()
		time.Sleep(10 * time.Millisecond)
		done <- ctx.Err()
	}))
	assert.NoError(t, <-done)
}

func TestRunPool_Shutdown(t *testing.T) {
	t.Run("waits for runs and orphans", func(t *testing.T) {
		p := NewRunPool()
		finish := make(chan struct{})
		require.NoError(t, p.Go(context.Background(), "run-1", func(context.Context) { <-finish }))
		orphanExit := p.trackOrphan()
		assert.Equal(t, PoolStats{Active: 1, Orphans: 1}, p.Stats())

		errCh := make(chan error, 1)
		go func() { errCh <- p.Shutdown(context.Background()) }()

		require.Eventually(t, func() bool {
			return errors.Is(p.Go(context.Background(), "probe", func(context.Context) {}), ErrShuttingDown)
		}, time.Second, time.Millisecond)
		close(finish)
		orphanExit()
		orphanExit()
		require.NoError(t, <-errCh)
		assert.Equal(t, PoolStats{}, p.Stats())
	})

	t.Run("cancels runs when the budget runs out", func(t *testing.T) {
		p := NewRunPool()
		cancelled := make(chan struct{})
		require.NoError(t, p.Go(context.Background(), "run-1", func(ctx context.Context) {
			<-ctx.Done()
			close(cancelled)
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Fatal("run was not cancelled")
		}
	})
}
