// Package executor drives one agent run per request: admission, tracking,
// timeout, event emission, fault classification and persistence of the
// outcome. An AgentExecutor is created per request and disposed with it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/breaker"
	"github.com/codeready-toolchain/agentrun/pkg/config"
	"github.com/codeready-toolchain/agentrun/pkg/events"
	"github.com/codeready-toolchain/agentrun/pkg/faults"
	"github.com/codeready-toolchain/agentrun/pkg/recovery"
	"github.com/codeready-toolchain/agentrun/pkg/services"
	"github.com/codeready-toolchain/agentrun/pkg/tracker"
)

// Deps are the process-wide services an AgentExecutor uses. None of them
// hold per-run state except through keys the executor passes in.
type Deps struct {
	Config     *config.ExecutorConfig
	Factory    agent.Factory
	Tracker    *tracker.Tracker
	Classifier *faults.Classifier
	Recovery   *recovery.Strategies
	Breakers   *breaker.Registry

	// Optional.
	Admission *Admission
	Threads   services.ThreadStore
	Runs      *RunPool
	Clock     clockwork.Clock
}

// activeRun is what Dispose needs to stop a run.
type activeRun struct {
	agent  agent.Agent
	cancel context.CancelFunc
}

// AgentExecutor executes agents for exactly one ExecutionContext and emits
// their events through exactly one Emitter.
type AgentExecutor struct {
	deps    Deps
	execCtx agent.ExecutionContext
	emitter *events.Emitter
	clock   clockwork.Clock
	log     *slog.Logger

	mu       sync.Mutex
	disposed bool
	runs     map[string]*activeRun // execution id → run
}

// New creates a request-scoped executor.
func New(deps Deps, execCtx agent.ExecutionContext, emitter *events.Emitter) *AgentExecutor {
	clk := deps.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &AgentExecutor{
		deps:    deps,
		execCtx: execCtx,
		emitter: emitter,
		clock:   clk,
		log:     slog.With(execCtx.LogAttrs()...),
		runs:    make(map[string]*activeRun),
	}
}

// Context returns the executor's execution context.
func (e *AgentExecutor) Context() agent.ExecutionContext {
	return e.execCtx
}

func (e *AgentExecutor) isDisposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// ExecuteAgent runs agentName once with input. timeout <= 0 uses the
// configured default; larger values are capped at the configured maximum.
// Every outcome, including rejection, failure and timeout, is reported in
// the result and as a terminal event on the run's connection. The error
// return is reserved for invalid calls and ErrDisposed.
func (e *AgentExecutor) ExecuteAgent(ctx context.Context, agentName string, input map[string]any, timeout time.Duration) (*agent.ExecutionResult, error) {
	if e.isDisposed() {
		return nil, ErrDisposed
	}
	if strings.TrimSpace(agentName) == "" {
		return nil, &AgentExecutorError{Op: "execute", Msg: "agent name is required"}
	}
	if e.emitter == nil || !e.emitter.Context().Equal(e.execCtx) {
		return nil, &AgentExecutorError{Op: "execute", Msg: "emitter is not bound to this execution context"}
	}

	timeout = e.effectiveTimeout(timeout)
	start := e.clock.Now()
	log := e.log.With("agent", agentName)
	// Terminal events and persistence must not be lost to a cancelled caller.
	bg := context.WithoutCancel(ctx)

	release, err := e.admit()
	if err != nil {
		return e.reject(bg, agentName, err, start), nil
	}
	// Released by the agent goroutine, or earlier when the run is abandoned.
	release = sync.OnceFunc(release)

	e.persist(bg, services.RoleUser, map[string]any{"agent": agentName, "input": input})

	execID := e.deps.Tracker.CreateExecution(e.execCtx.RunID(), agentName, e.execCtx.UserID())
	if err := e.deps.Tracker.StartExecution(execID); err != nil {
		release()
		return nil, fmt.Errorf("failed to start execution: %w", err)
	}
	log = log.With("execution_id", execID)
	ec := faults.NewErrorContext(e.execCtx, agentName, "execute")

	a, err := e.deps.Factory.Create(agentName, e.execCtx)
	if err != nil {
		release()
		if errors.Is(err, agent.ErrUnknownAgent) {
			err = faults.Wrap(err, faults.CategoryValidation, faults.CodeValidation, false)
		}
		return e.fail(bg, execID, agentName, err, ec, start), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.track(execID, a, cancel); err != nil {
		release()
		return nil, err
	}
	defer e.untrack(execID)
	if err := e.deps.Tracker.RegisterCancel(execID, cancel); err != nil {
		log.Warn("Failed to register cancel with tracker", "error", err)
	}

	if _, err := e.emitter.NotifyAgentStarted(bg, agentName, e.execCtx.RunID()); err != nil {
		log.Warn("Failed to emit agent_started", "error", err)
	}
	log.Info("Agent execution started", "timeout", timeout)

	go e.heartbeat(runCtx, execID, cancel)

	handle := &runHandle{}
	rt := &runtime{exec: e, agentName: agentName, execID: execID, handle: handle, log: log}
	done := make(chan outcome, 1)
	go func() {
		defer release()
		defer handle.exit()
		out, err := runAgent(runCtx, a, rt, input)
		done <- outcome{output: out, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-runCtx.Done():
		// An agent that finished at the deadline still counts.
		select {
		case o = <-done:
		default:
			release()
			return e.abandon(bg, runCtx, execID, agentName, handle, ec, timeout, start), nil
		}
	}
	handle.close(false, nil)

	if rec, ok := e.deps.Tracker.Get(execID); ok && rec.State == tracker.StateTimedOut {
		return e.timedOut(bg, execID, agentName, ec, timeout, start), nil
	}
	if o.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return e.timedOut(bg, execID, agentName, ec, timeout, start), nil
	}
	if o.err != nil {
		return e.fail(bg, execID, agentName, o.err, ec, start), nil
	}
	if err := ValidateResult(o.output); err != nil {
		return e.fail(bg, execID, agentName, err, ec, start), nil
	}
	if _, err := e.emitter.NotifyAgentCompleted(bg, agentName, e.execCtx.RunID(), o.output); err != nil {
		if errors.Is(err, events.ErrDisposed) {
			log.Warn("Agent completed after emitter was disposed")
		} else {
			return e.fail(bg, execID, agentName,
				faults.Wrap(err, faults.CategoryProcessing, faults.CodeInternal, false), ec, start), nil
		}
	}
	if err := e.deps.Tracker.UpdateExecutionState(execID, tracker.StateCompleted, ""); err != nil {
		log.Warn("Failed to mark execution completed", "error", err)
	}
	e.persist(bg, services.RoleAgent, map[string]any{
		"agent":  agentName,
		"status": string(agent.ExecutionStatusCompleted),
		"output": o.output,
	})

	duration := e.clock.Now().Sub(start)
	log.Info("Agent execution completed", "duration", duration)
	return &agent.ExecutionResult{
		Success:     true,
		Status:      agent.ExecutionStatusCompleted,
		ExecutionID: execID,
		Output:      o.output,
		Duration:    duration,
	}, nil
}

type outcome struct {
	output any
	err    error
}

// runAgent calls Execute and turns a panic into an error.
func runAgent(ctx context.Context, a agent.Agent, rt agent.Runtime, input map[string]any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = faults.Wrap(fmt.Errorf("agent panicked: %v", p),
				faults.CategoryProcessing, faults.CodeAgentFailed, false)
		}
	}()
	return a.Execute(ctx, rt, input)
}

func (e *AgentExecutor) effectiveTimeout(timeout time.Duration) time.Duration {
	cfg := e.deps.Config
	if cfg == nil {
		cfg = config.DefaultExecutorConfig()
	}
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	if cfg.MaxTimeout > 0 && timeout > cfg.MaxTimeout {
		timeout = cfg.MaxTimeout
	}
	return timeout
}

func (e *AgentExecutor) admit() (func(), error) {
	if e.deps.Admission == nil {
		return func() {}, nil
	}
	return e.deps.Admission.Acquire(e.execCtx.UserID(), e.execCtx.MetadataString("tier"))
}

func (e *AgentExecutor) track(execID string, a agent.Agent, cancel context.CancelFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	e.runs[execID] = &activeRun{agent: a, cancel: cancel}
	return nil
}

func (e *AgentExecutor) untrack(execID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs != nil {
		delete(e.runs, execID)
	}
}

// heartbeat refreshes the tracker until ctx is done. If the tracker no
// longer considers the execution running the run is cancelled.
func (e *AgentExecutor) heartbeat(ctx context.Context, execID string, cancel context.CancelFunc) {
	interval := config.DefaultExecutorConfig().HeartbeatInterval
	if e.deps.Config != nil && e.deps.Config.HeartbeatInterval > 0 {
		interval = e.deps.Config.HeartbeatInterval
	}
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !e.deps.Tracker.Heartbeat(execID) {
				e.log.Warn("Execution no longer running, cancelling", "execution_id", execID)
				cancel()
				return
			}
		}
	}
}

// abandon handles a run whose context ended before the agent returned. The
// agent goroutine is detached: its later events are dropped and its exit is
// counted by the run pool.
func (e *AgentExecutor) abandon(ctx, runCtx context.Context, execID, agentName string, h *runHandle, ec *faults.ErrorContext, timeout time.Duration, start time.Time) *agent.ExecutionResult {
	var onExit func()
	if e.deps.Runs != nil {
		onExit = e.deps.Runs.trackOrphan()
	}
	if stillRunning := h.close(true, onExit); stillRunning {
		e.log.Warn("Agent goroutine detached", "agent", agentName, "execution_id", execID)
	} else if onExit != nil {
		onExit()
	}

	rec, _ := e.deps.Tracker.Get(execID)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) || rec.State == tracker.StateTimedOut {
		return e.timedOut(ctx, execID, agentName, ec, timeout, start)
	}
	return e.fail(ctx, execID, agentName, runCtx.Err(), ec, start)
}

func (e *AgentExecutor) timedOut(ctx context.Context, execID, agentName string, ec *faults.ErrorContext, timeout time.Duration, start time.Time) *agent.ExecutionResult {
	detail := fmt.Sprintf("exceeded timeout of %s", timeout)
	if err := e.deps.Tracker.UpdateExecutionState(execID, tracker.StateTimedOut, detail); err != nil {
		e.log.Warn("Failed to mark execution timed out", "execution_id", execID, "error", err)
	}

	err := fmt.Errorf("agent %s %s: %w", agentName, detail, context.DeadlineExceeded)
	rec := e.deps.Classifier.Handle(err, ec)
	e.notifyFailure(ctx, agentName, rec, true)
	e.persist(ctx, services.RoleError, map[string]any{
		"agent":      agentName,
		"status":     string(agent.ExecutionStatusTimedOut),
		"error_code": rec.Code,
	})

	duration := e.clock.Now().Sub(start)
	e.log.Warn("Agent execution timed out", "agent", agentName, "execution_id", execID, "duration", duration)
	metadata := recordMetadata(rec)
	metadata["timeout"] = true
	return &agent.ExecutionResult{
		Success:     false,
		Status:      agent.ExecutionStatusTimedOut,
		ExecutionID: execID,
		Error:       "timed out",
		ErrorCode:   rec.Code,
		UserMessage: rec.UserMessage,
		Duration:    duration,
		Metadata:    metadata,
	}
}

func (e *AgentExecutor) fail(ctx context.Context, execID, agentName string, err error, ec *faults.ErrorContext, start time.Time) *agent.ExecutionResult {
	var rec faults.ErrorRecord
	var recorded *recordedError
	if errors.As(err, &recorded) {
		rec = recorded.rec
	} else {
		rec = e.deps.Classifier.Handle(err, ec)
	}

	if err := e.deps.Tracker.UpdateExecutionState(execID, tracker.StateFailed, rec.Message); err != nil {
		e.log.Warn("Failed to mark execution failed", "execution_id", execID, "error", err)
	}
	e.notifyFailure(ctx, agentName, rec, false)
	e.persist(ctx, services.RoleError, map[string]any{
		"agent":      agentName,
		"status":     string(agent.ExecutionStatusFailed),
		"error_code": rec.Code,
	})

	duration := e.clock.Now().Sub(start)
	e.log.Error("Agent execution failed",
		"agent", agentName,
		"execution_id", execID,
		"code", rec.Code,
		"error", rec.Message)
	return &agent.ExecutionResult{
		Success:     false,
		Status:      agent.ExecutionStatusFailed,
		ExecutionID: execID,
		Error:       rec.Message,
		ErrorCode:   rec.Code,
		UserMessage: rec.UserMessage,
		Duration:    duration,
		Metadata:    recordMetadata(rec),
	}
}

func (e *AgentExecutor) reject(ctx context.Context, agentName string, cause error, start time.Time) *agent.ExecutionResult {
	err := &faults.Error{
		Category: faults.CategoryProcessing,
		Code:     faults.CodeExecutionRateLimited,
		Message:  "execution rejected",
		Err:      cause,
	}
	rec := e.deps.Classifier.Handle(err, faults.NewErrorContext(e.execCtx, agentName, "admission"))
	e.notifyFailure(ctx, agentName, rec, false)

	e.log.Warn("Agent execution rejected", "agent", agentName, "error", cause)
	return &agent.ExecutionResult{
		Success:     false,
		Status:      agent.ExecutionStatusRejected,
		Error:       rec.Message,
		ErrorCode:   rec.Code,
		UserMessage: rec.UserMessage,
		Duration:    e.clock.Now().Sub(start),
		Metadata:    recordMetadata(rec),
	}
}

func recordMetadata(rec faults.ErrorRecord) map[string]any {
	return map[string]any{
		"error_id":    rec.ErrorID,
		"category":    string(rec.Category),
		"severity":    string(rec.Severity),
		"recoverable": rec.IsRecoverable,
	}
}

func (e *AgentExecutor) notifyFailure(ctx context.Context, agentName string, rec faults.ErrorRecord, timeout bool) {
	_, err := e.emitter.NotifyFailure(ctx, events.AgentErrorPayload{
		AgentName:   agentName,
		Message:     rec.Message,
		ErrorType:   string(rec.Category),
		ErrorCode:   rec.Code,
		UserMessage: rec.UserMessage,
		TraceID:     rec.ErrorID,
		Recoverable: rec.IsRecoverable,
		Timeout:     timeout,
	})
	if err != nil {
		e.log.Warn("Failed to emit agent_error", "agent", agentName, "error", err)
	}
}

// persist stores one thread message. Failures are logged; persistence never
// changes a run's outcome.
func (e *AgentExecutor) persist(ctx context.Context, role services.Role, content map[string]any) {
	if e.deps.Threads == nil {
		return
	}
	msg := &services.Message{
		ThreadID: e.execCtx.ThreadID(),
		UserID:   e.execCtx.UserID(),
		RunID:    e.execCtx.RunID(),
		Role:     role,
		Content:  content,
	}
	if err := e.deps.Threads.SaveMessage(ctx, msg); err != nil {
		e.log.Warn("Failed to persist thread message", "role", role, "error", err)
	}
}

// Dispose cancels any run still in progress, drops agent references and
// detaches the emitter. It is idempotent.
func (e *AgentExecutor) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	runs := e.runs
	e.runs = nil
	e.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	if e.emitter != nil {
		e.emitter.Cleanup()
	}
	e.log.Debug("Agent executor disposed", "cancelled_runs", len(runs))
}
