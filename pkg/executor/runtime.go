package executor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/faults"
	"github.com/codeready-toolchain/agentrun/pkg/recovery"
)

// runHandle gates the events an agent goroutine may emit. Once closed no
// further agent events go out, so the executor's terminal event is always
// the last one for the run. Emissions hold the read lock; close takes the
// write lock and therefore waits for any emission in flight.
type runHandle struct {
	mu       sync.RWMutex
	closed   bool
	exited   bool
	orphaned bool
	onExit   func()
}

func (h *runHandle) emit(fn func() error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrDetached
	}
	return fn()
}

func (h *runHandle) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// close stops agent emissions. With orphan set and the agent still running,
// the handle remembers it so exit can report the orphan's end. It returns
// whether the agent goroutine is still running.
func (h *runHandle) close(orphan bool, onOrphanExit func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if orphan && !h.exited {
		h.orphaned = true
		h.onExit = onOrphanExit
		return true
	}
	return false
}

// exit is called by the agent goroutine when Execute returns.
func (h *runHandle) exit() {
	h.mu.Lock()
	h.exited = true
	orphaned, onExit := h.orphaned, h.onExit
	h.mu.Unlock()
	if orphaned && onExit != nil {
		onExit()
	}
}

// runtime is the agent.Runtime handed to one running agent.
type runtime struct {
	exec      *AgentExecutor
	agentName string
	execID    string
	handle    *runHandle
	log       *slog.Logger
}

var _ agent.Runtime = (*runtime)(nil)

func (r *runtime) Context() agent.ExecutionContext { return r.exec.execCtx }

func (r *runtime) AgentName() string { return r.agentName }

// Think emits agent_thinking.
func (r *runtime) Think(ctx context.Context, text string) error {
	r.exec.deps.Tracker.Heartbeat(r.execID)
	return r.handle.emit(func() error {
		_, err := r.exec.emitter.NotifyAgentThinking(ctx, r.agentName, r.exec.execCtx.RunID(), text)
		return err
	})
}

// CallTool runs call.Invoke through the dependency's circuit breaker and the
// class's recovery strategy, validates the result and reports the call with
// tool_executing / tool_completed events. A failure is classified and
// recorded once here; the returned error carries that record.
func (r *runtime) CallTool(ctx context.Context, call agent.ToolCall) (any, error) {
	if call.Name == "" || call.Invoke == nil {
		return nil, faults.Wrap(fmt.Errorf("tool call needs a name and an invoke func"),
			faults.CategoryValidation, faults.CodeValidation, false)
	}
	if r.handle.isClosed() {
		return nil, ErrDetached
	}
	r.exec.deps.Tracker.Heartbeat(r.execID)

	runID := r.exec.execCtx.RunID()
	err := r.handle.emit(func() error {
		_, err := r.exec.emitter.NotifyToolExecuting(ctx, r.agentName, runID, call.Name, call.Input)
		return err
	})
	if err != nil {
		return nil, err
	}

	strategy := r.exec.deps.Recovery.For(recovery.ParseClass(call.Class))
	ec := faults.NewErrorContext(r.exec.execCtx, r.agentName, "tool:"+call.Name)
	log := r.log.With("tool", call.Name, "dependency", call.Dependency)

	op := func(ctx context.Context) (any, error) {
		var out any
		invoke := func(ctx context.Context) error {
			var err error
			out, err = call.Invoke(ctx, maps.Clone(call.Input))
			return err
		}
		var err error
		if call.Dependency != "" {
			err = r.exec.deps.Breakers.Do(ctx, call.Dependency, invoke)
		} else {
			err = invoke(ctx)
		}
		if err != nil {
			return nil, err
		}
		// Outside the breaker: a bad result is not a dependency failure.
		if err := ValidateResult(out); err != nil {
			return nil, err
		}
		return out, nil
	}

	notify := func(attempt int, err error, delay time.Duration) {
		r.exec.deps.Tracker.Heartbeat(r.execID)
		msg := fmt.Sprintf("Retrying %s (attempt %d of %d) in %s", call.Name, attempt, strategy.MaxAttempts(), delay.Round(time.Millisecond))
		_ = r.handle.emit(func() error {
			_, err := r.exec.emitter.NotifyProgress(ctx, r.agentName, msg, attempt)
			return err
		})
	}

	start := r.exec.clock.Now()
	out, err := strategy.RunNotify(ctx, ec, op, notify)
	if err != nil {
		rec := r.exec.deps.Classifier.Handle(err, ec)
		log.Warn("Tool call failed", "attempts", len(ec.Attempts), "code", rec.Code, "error", err)
		return nil, &recordedError{rec: rec, err: err}
	}

	if ec.RetryCount > 0 {
		msg := fmt.Sprintf("Recovered %s after %d retries", call.Name, ec.RetryCount)
		_ = r.handle.emit(func() error {
			_, err := r.exec.emitter.NotifyProgress(ctx, r.agentName, msg, ec.RetryCount+1)
			return err
		})
	}
	log.Debug("Tool call completed", "attempts", len(ec.Attempts), "duration", r.exec.clock.Now().Sub(start))

	err = r.handle.emit(func() error {
		_, err := r.exec.emitter.NotifyToolCompleted(ctx, r.agentName, runID, call.Name, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
