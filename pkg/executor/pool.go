package executor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrShuttingDown is returned by RunPool.Go once Shutdown has started.
var ErrShuttingDown = errors.New("run pool is shutting down")

// PoolStats describes the goroutines a RunPool is responsible for.
type PoolStats struct {
	Active  int `json:"active"`
	Orphans int `json:"orphans"`
}

// RunPool owns the goroutines that drive asynchronous runs and the orphaned
// agent goroutines left behind by timeouts. It keeps a cancel func per run
// so a run can be stopped by id, and lets shutdown wait for everything.
type RunPool struct {
	mu      sync.Mutex
	runs    map[string]context.CancelFunc
	closing bool
	orphans int

	wg       sync.WaitGroup
	orphanWg sync.WaitGroup
}

// NewRunPool creates an empty pool.
func NewRunPool() *RunPool {
	return &RunPool{runs: make(map[string]context.CancelFunc)}
}

// Go runs fn in a new goroutine under a context that is cancelled by
// Cancel(runID) or a Shutdown that runs out of time. The context does not
// inherit ctx's cancellation, so a run outlives the request that started it,
// but it keeps ctx's values.
func (p *RunPool) Go(ctx context.Context, runID string, fn func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return ErrShuttingDown
	}
	if _, dup := p.runs[runID]; dup {
		return &AgentExecutorError{Op: "start", Msg: "run " + runID + " is already active"}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.runs[runID] = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.unregister(runID)
		defer cancel()
		fn(runCtx)
	}()
	return nil
}

func (p *RunPool) unregister(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.runs, runID)
}

// Cancel cancels a run. It returns false when the run is not active.
func (p *RunPool) Cancel(runID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.runs[runID]
	if ok {
		cancel()
	}
	return ok
}

// Active returns the ids of active runs, sorted.
func (p *RunPool) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns the current pool counters.
func (p *RunPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Active: len(p.runs), Orphans: p.orphans}
}

// trackOrphan counts a detached agent goroutine until the returned func is
// called on its exit.
func (p *RunPool) trackOrphan() func() {
	p.mu.Lock()
	p.orphans++
	p.mu.Unlock()
	p.orphanWg.Add(1)
	return sync.OnceFunc(func() {
		p.mu.Lock()
		p.orphans--
		p.mu.Unlock()
		p.orphanWg.Done()
	})
}

// Shutdown stops accepting runs and waits for active runs and orphans to
// finish. When ctx ends first every remaining run is cancelled and ctx's
// error is returned.
func (p *RunPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	active := len(p.runs)
	p.mu.Unlock()

	if active > 0 {
		slog.Info("Waiting for active runs to complete", "count", active)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.orphanWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Run pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		for id, cancel := range p.runs {
			slog.Warn("Cancelling run at shutdown", "run_id", id)
			cancel()
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}
