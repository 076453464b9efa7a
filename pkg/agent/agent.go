// Package agent defines the per-execution agent contract: the immutable
// ExecutionContext, the Agent interface and the Factory that builds a fresh
// Agent for every run.
package agent

import (
	"context"
	"time"
)

// Agent runs one workflow. Instances are created per execution by a Factory
// and are never shared between runs, so implementations may keep mutable
// per-run state without locking.
type Agent interface {
	// Execute drives the workflow to completion. ctx carries the run timeout;
	// implementations must return promptly once it is done.
	// rt is the only channel for progress reporting and tool calls.
	Execute(ctx context.Context, rt Runtime, input map[string]any) (any, error)
}

// Runtime is what an executing agent sees of its executor.
type Runtime interface {
	// Context returns the run's identity.
	Context() ExecutionContext
	// AgentName is the registry name the agent was created under.
	AgentName() string
	// Think streams intermediate reasoning to the owning connection.
	Think(ctx context.Context, text string) error
	// CallTool runs a tool with event reporting, circuit breaking, retries and
	// result validation.
	CallTool(ctx context.Context, call ToolCall) (any, error)
}

// ToolFunc performs a tool call.
type ToolFunc func(ctx context.Context, input map[string]any) (any, error)

// ToolCall describes one tool invocation.
type ToolCall struct {
	Name string
	// Dependency is the remote system the tool talks to. It keys the circuit
	// breaker and selects the retry policy. Empty for local tools.
	Dependency string
	// Class selects the retry policy (database, llm, network, generic).
	// Defaults to generic.
	Class  string
	Input  map[string]any
	Invoke ToolFunc
}

// ExecutionStatus represents the terminal status of an agent execution.
type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out"
	ExecutionStatusRejected  ExecutionStatus = "rejected"
)

// ExecutionResult is the outcome of one ExecuteAgent call. Failures are
// reported here, not as Go errors.
type ExecutionResult struct {
	Success     bool            `json:"success"`
	Status      ExecutionStatus `json:"status"`
	ExecutionID string          `json:"execution_id,omitempty"`
	Output      any             `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	UserMessage string          `json:"user_message,omitempty"`
	Duration    time.Duration   `json:"duration"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}
