package faults

import (
	"time"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
)

// Attempt is one try of a recoverable operation.
type Attempt struct {
	Number int           `json:"number"`
	Error  string        `json:"error,omitempty"`
	Delay  time.Duration `json:"delay,omitempty"`
	At     time.Time     `json:"at"`
}

// ErrorContext carries what is known about a failing operation. Each caller
// owns its own ErrorContext; retry bookkeeping is written here and nowhere
// else.
type ErrorContext struct {
	ExecCtx    agent.ExecutionContext
	AgentName  string
	Operation  string
	RetryCount int
	Attempts   []Attempt
}

// NewErrorContext creates an ErrorContext for one operation of one run.
func NewErrorContext(execCtx agent.ExecutionContext, agentName, operation string) *ErrorContext {
	return &ErrorContext{ExecCtx: execCtx, AgentName: agentName, Operation: operation}
}

// RecordAttempt appends the outcome of attempt n. A nil err marks success.
func (ec *ErrorContext) RecordAttempt(n int, err error, delay time.Duration, at time.Time) {
	a := Attempt{Number: n, Delay: delay, At: at}
	if err != nil {
		a.Error = err.Error()
	}
	ec.Attempts = append(ec.Attempts, a)
	if n > 1 {
		ec.RetryCount = n - 1
	}
}

// FailedAttempts returns how many recorded attempts failed.
func (ec *ErrorContext) FailedAttempts() int {
	n := 0
	for _, a := range ec.Attempts {
		if a.Error != "" {
			n++
		}
	}
	return n
}

func (ec *ErrorContext) fields() map[string]string {
	if ec == nil {
		return map[string]string{}
	}
	f := map[string]string{}
	if !ec.ExecCtx.IsZero() {
		f["user_id"] = ec.ExecCtx.UserID()
		f["thread_id"] = ec.ExecCtx.ThreadID()
		f["run_id"] = ec.ExecCtx.RunID()
		f["correlation_id"] = ec.ExecCtx.CorrelationID()
	}
	if ec.AgentName != "" {
		f["agent"] = ec.AgentName
	}
	if ec.Operation != "" {
		f["operation"] = ec.Operation
	}
	return f
}
