package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
)

// EmitterStats counts events by delivery outcome.
type EmitterStats struct {
	Emitted int `json:"emitted"`
	Dropped int `json:"dropped"`
}

// Emitter produces lifecycle events for exactly one run and delivers them to
// exactly one connection. It is bound at construction and cannot be rebound.
type Emitter struct {
	mu       sync.Mutex
	execCtx  agent.ExecutionContext
	sender   Sender
	now      func() time.Time
	disposed bool
	stats    EmitterStats
}

// NewEmitter binds an emitter to execCtx and the registry entry for its
// (user, connection) key.
func NewEmitter(execCtx agent.ExecutionContext, sender Sender) *Emitter {
	return &Emitter{
		execCtx: execCtx,
		sender:  sender,
		now:     time.Now,
	}
}

// Context returns the bound execution context.
func (e *Emitter) Context() agent.ExecutionContext {
	return e.execCtx
}

// NotifyAgentStarted emits agent_started.
func (e *Emitter) NotifyAgentStarted(ctx context.Context, agentName, runID string) (bool, error) {
	return e.emit(ctx, runID, AgentStartedPayload{AgentName: agentName})
}

// NotifyAgentThinking emits agent_thinking.
func (e *Emitter) NotifyAgentThinking(ctx context.Context, agentName, runID, text string) (bool, error) {
	return e.emit(ctx, runID, AgentThinkingPayload{AgentName: agentName, Text: text})
}

// NotifyToolExecuting emits tool_executing.
func (e *Emitter) NotifyToolExecuting(ctx context.Context, agentName, runID, toolName string, input map[string]any) (bool, error) {
	return e.emit(ctx, runID, ToolExecutingPayload{AgentName: agentName, ToolName: toolName, Input: input})
}

// NotifyToolCompleted emits tool_completed.
func (e *Emitter) NotifyToolCompleted(ctx context.Context, agentName, runID, toolName string, result any) (bool, error) {
	return e.emit(ctx, runID, ToolCompletedPayload{AgentName: agentName, ToolName: toolName, Result: result})
}

// NotifyAgentCompleted emits agent_completed.
func (e *Emitter) NotifyAgentCompleted(ctx context.Context, agentName, runID string, result any) (bool, error) {
	return e.emit(ctx, runID, AgentCompletedPayload{AgentName: agentName, Result: result})
}

// NotifyError emits a bare agent_error.
func (e *Emitter) NotifyError(ctx context.Context, message, errorType string) (bool, error) {
	return e.emit(ctx, "", AgentErrorPayload{Message: message, ErrorType: errorType})
}

// NotifyFailure emits agent_error with the full structured error.
func (e *Emitter) NotifyFailure(ctx context.Context, payload AgentErrorPayload) (bool, error) {
	return e.emit(ctx, "", payload)
}

// NotifyProgress emits agent_progress (recovery and continuation notices).
func (e *Emitter) NotifyProgress(ctx context.Context, agentName, message string, attempt int) (bool, error) {
	return e.emit(ctx, "", AgentProgressPayload{AgentName: agentName, Message: message, Attempt: attempt})
}

// Cleanup detaches the emitter. Every later notify returns ErrDisposed.
func (e *Emitter) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.disposed = true
	e.sender = nil
}

// Stats returns delivery counters.
func (e *Emitter) Stats() EmitterStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// emit builds, checks and sends one event. runID is the caller's claim about
// which run the event belongs to; "" means no claim. The event always carries
// the emitter's own run and thread ids.
func (e *Emitter) emit(ctx context.Context, runID string, payload Payload) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return false, ErrDisposed
	}

	eventType := payload.EventType()
	if runID != "" && runID != e.execCtx.RunID() {
		return false, fmt.Errorf("%w: %s for run %q on emitter for run %q",
			ErrContextMismatch, eventType, runID, e.execCtx.RunID())
	}
	if err := payload.validate(); err != nil {
		return false, fmt.Errorf("%s: %w", eventType, err)
	}
	if requiresRunID(eventType) && runID == "" {
		return false, fmt.Errorf("%s: %w: run_id", eventType, ErrMissingField)
	}

	data, err := serialize(Event{
		Type:      eventType,
		RunID:     e.execCtx.RunID(),
		ThreadID:  e.execCtx.ThreadID(),
		Data:      payload,
		Timestamp: e.now(),
	})
	if err != nil {
		return false, err
	}

	delivered := e.sender.Send(ctx, e.execCtx.UserID(), e.execCtx.ConnectionID(), data)
	if delivered {
		e.stats.Emitted++
	} else {
		e.stats.Dropped++
		slog.Debug("Event not delivered: no live connection",
			append(e.execCtx.LogAttrs(), "event_type", eventType)...)
	}
	return delivered, nil
}

// requiresRunID lists the notify methods whose signature carries a run id.
func requiresRunID(t EventType) bool {
	switch t {
	case EventTypeAgentError, EventTypeAgentProgress:
		return false
	default:
		return true
	}
}

// serialize marshals the event and checks it decodes back to the same
// envelope, so partial or corrupt data never reaches a connection.
func serialize(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal %s event: %w", ErrSerialization, evt.Type, err)
	}
	var check wireEvent
	if err := json.Unmarshal(data, &check); err != nil {
		return nil, fmt.Errorf("%w: %s event does not round-trip: %w", ErrSerialization, evt.Type, err)
	}
	if check.EventType != evt.Type || check.RunID != evt.RunID || check.ThreadID != evt.ThreadID {
		return nil, fmt.Errorf("%w: %s event envelope changed in round trip", ErrSerialization, evt.Type)
	}
	return data, nil
}
