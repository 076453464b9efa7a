package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentrun/pkg/config"
)

func newTestTracker(t *testing.T) (*Tracker, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	return New(config.DefaultTrackerConfig(), clk), clk
}

func TestTracker_Lifecycle(t *testing.T) {
	tr, clk := newTestTracker(t)

	id := tr.CreateExecution("run-1", "Triage", "alice")
	rec, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatePending, rec.State)
	assert.False(t, tr.Heartbeat(id), "heartbeat on PENDING tells the caller to stop")

	require.NoError(t, tr.StartExecution(id))
	assert.ErrorIs(t, tr.StartExecution(id), ErrInvalidTransition)

	clk.Advance(3 * time.Second)
	assert.True(t, tr.Heartbeat(id))
	rec, _ = tr.Get(id)
	assert.Equal(t, clk.Now(), rec.LastHeartbeat)
	assert.Len(t, tr.Active(), 1)

	require.NoError(t, tr.UpdateExecutionState(id, StateCompleted, "done"))
	rec, _ = tr.Get(id)
	assert.Equal(t, StateCompleted, rec.State)
	assert.Equal(t, "done", rec.Detail)
	require.NotNil(t, rec.EndTime)
	assert.Empty(t, tr.Active())
	assert.False(t, tr.Heartbeat(id))
}

func TestTracker_TerminalTransitionsAreNoOps(t *testing.T) {
	tr, _ := newTestTracker(t)
	id := tr.CreateExecution("run-1", "A", "alice")
	require.NoError(t, tr.StartExecution(id))
	require.NoError(t, tr.UpdateExecutionState(id, StateFailed, "boom"))

	assert.NoError(t, tr.UpdateExecutionState(id, StateCompleted, "late success"))
	rec, _ := tr.Get(id)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, "boom", rec.Detail)
}

func TestTracker_InvalidTransitions(t *testing.T) {
	tr, _ := newTestTracker(t)
	id := tr.CreateExecution("run-1", "A", "alice")

	assert.ErrorIs(t, tr.UpdateExecutionState(id, StateCompleted, ""), ErrInvalidTransition, "PENDING → terminal")
	require.NoError(t, tr.StartExecution(id))
	assert.ErrorIs(t, tr.UpdateExecutionState(id, StatePending, ""), ErrInvalidTransition, "non-terminal target")
	assert.ErrorIs(t, tr.UpdateExecutionState("missing", StateFailed, ""), ErrNotFound)
	assert.ErrorIs(t, tr.StartExecution("missing"), ErrNotFound)
}

func TestTracker_SweepTimesOutStaleExecutions(t *testing.T) {
	tr, clk := newTestTracker(t)

	var cancelled atomic.Bool
	var hooked []ExecutionRecord
	tr.SetTimeoutHandler(func(r ExecutionRecord) { hooked = append(hooked, r) })

	stale := tr.CreateExecution("run-stale", "A", "alice")
	require.NoError(t, tr.StartExecution(stale))
	require.NoError(t, tr.RegisterCancel(stale, func() { cancelled.Store(true) }))

	fresh := tr.CreateExecution("run-fresh", "A", "bob")
	require.NoError(t, tr.StartExecution(fresh))

	clk.Advance(45 * time.Second)
	require.True(t, tr.Heartbeat(fresh))
	clk.Advance(20 * time.Second)

	assert.Equal(t, 1, tr.Sweep())

	rec, _ := tr.Get(stale)
	assert.Equal(t, StateTimedOut, rec.State)
	assert.Contains(t, rec.Detail, "no heartbeat")
	assert.True(t, cancelled.Load())
	require.Len(t, hooked, 1)
	assert.Equal(t, "run-stale", hooked[0].RunID)

	rec, _ = tr.Get(fresh)
	assert.Equal(t, StateRunning, rec.State)

	// A late completion from the timed-out executor is ignored.
	assert.NoError(t, tr.UpdateExecutionState(stale, StateCompleted, "too late"))
	rec, _ = tr.Get(stale)
	assert.Equal(t, StateTimedOut, rec.State)

	stats := tr.Stats()
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.TimedOut)
	assert.Equal(t, 1, stats.SweptTimeouts)
	assert.Equal(t, clk.Now(), stats.LastSweep)
}

func TestTracker_SweepPurgesAfterRetention(t *testing.T) {
	tr, clk := newTestTracker(t)
	id := tr.CreateExecution("run-1", "A", "alice")
	require.NoError(t, tr.StartExecution(id))
	require.NoError(t, tr.UpdateExecutionState(id, StateCompleted, ""))

	clk.Advance(4 * time.Minute)
	tr.Sweep()
	_, ok := tr.Get(id)
	assert.True(t, ok, "still inside retention")

	clk.Advance(2 * time.Minute)
	tr.Sweep()
	_, ok = tr.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 1, tr.Stats().Purged)
}

func TestTracker_BackgroundSweepUsesInjectedClock(t *testing.T) {
	tr, clk := newTestTracker(t)
	timedOut := make(chan ExecutionRecord, 1)
	tr.SetTimeoutHandler(func(r ExecutionRecord) { timedOut <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)
	defer tr.Stop()

	id := tr.CreateExecution("run-1", "A", "alice")
	require.NoError(t, tr.StartExecution(id))

	// The sweep goroutine may register its ticker after the first Advance,
	// so keep moving time until a tick lands past the heartbeat timeout.
	var rec ExecutionRecord
	require.Eventually(t, func() bool {
		clk.Advance(10 * time.Second)
		select {
		case rec = <-timedOut:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, id, rec.ExecutionID)
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.Start(context.Background())
	tr.Stop()
	tr.Stop()
}

func TestTracker_ConcurrentExecutionsAreIndependent(t *testing.T) {
	tr, _ := newTestTracker(t)
	const n = 24
	ids := make([]string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := tr.CreateExecution("run", "A", "user")
			ids[i] = id
			_ = tr.StartExecution(id)
			for j := 0; j < 20; j++ {
				tr.Heartbeat(id)
			}
			if i%2 == 0 {
				_ = tr.UpdateExecutionState(id, StateCompleted, "")
			} else {
				_ = tr.UpdateExecutionState(id, StateFailed, "")
			}
		}(i)
	}
	wg.Wait()

	stats := tr.Stats()
	assert.Equal(t, n/2, stats.Completed)
	assert.Equal(t, n/2, stats.Failed)
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
}
