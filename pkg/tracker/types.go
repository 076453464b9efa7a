// Package tracker records the lifecycle of every agent execution and turns
// silent deaths (missing heartbeats) into TIMED_OUT records.
package tracker

import (
	"errors"
	"time"
)

// State is an execution's lifecycle state.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
)

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

var (
	// ErrNotFound is returned for an unknown (or purged) execution id.
	ErrNotFound = errors.New("execution not found")

	// ErrInvalidTransition is returned for a transition the state machine forbids.
	ErrInvalidTransition = errors.New("invalid execution state transition")
)

// ExecutionRecord is a snapshot of one execution.
type ExecutionRecord struct {
	ExecutionID   string     `json:"execution_id"`
	RunID         string     `json:"run_id"`
	AgentName     string     `json:"agent_name"`
	UserID        string     `json:"user_id"`
	State         State      `json:"state"`
	Detail        string     `json:"detail,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	EndTime       *time.Time `json:"end_time,omitempty"`
}

// Stats summarizes tracked executions.
type Stats struct {
	Pending       int       `json:"pending"`
	Running       int       `json:"running"`
	Completed     int       `json:"completed"`
	Failed        int       `json:"failed"`
	TimedOut      int       `json:"timed_out"`
	SweptTimeouts int       `json:"swept_timeouts"`
	Purged        int       `json:"purged"`
	LastSweep     time.Time `json:"last_sweep"`
}
