package executor

import (
	"errors"
	"fmt"

	"github.com/codeready-toolchain/agentrun/pkg/faults"
)

var (
	// ErrDisposed is returned by every AgentExecutor method after Dispose.
	ErrDisposed = errors.New("agent executor disposed")

	// ErrDetached is returned to an agent that keeps calling its runtime
	// after the executor gave up on it (timeout or cancellation).
	ErrDetached = errors.New("agent run detached")
)

// AgentExecutorError reports a programming error in how ExecuteAgent was
// called. Agent failures are never returned this way; they end up in the
// ExecutionResult.
type AgentExecutorError struct {
	Op  string
	Msg string
}

func (e *AgentExecutorError) Error() string {
	return fmt.Sprintf("agent executor: %s: %s", e.Op, e.Msg)
}

// recordedError is a tool failure that was already classified and added to
// the error history, so the executor reports it without recording it twice.
type recordedError struct {
	rec faults.ErrorRecord
	err error
}

func (e *recordedError) Error() string { return e.err.Error() }
func (e *recordedError) Unwrap() error { return e.err }
