package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/codeready-toolchain/agentrun/pkg/config"
)

// entry is one execution. Its mutex guards rec and cancel; the executor that
// created the execution is the only writer apart from the sweep.
type entry struct {
	mu     sync.Mutex
	rec    ExecutionRecord
	cancel context.CancelFunc
}

// Tracker holds execution records and runs the heartbeat sweep.
type Tracker struct {
	cfg   *config.TrackerConfig
	clock clockwork.Clock

	records sync.Map // execution id → *entry

	onTimeoutMu sync.RWMutex
	onTimeout   func(ExecutionRecord)

	statsMu sync.Mutex
	swept   int
	purged  int
	last    time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a tracker. The sweep does not run until Start.
func New(cfg *config.TrackerConfig, clk clockwork.Clock) *Tracker {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Tracker{
		cfg:    cfg,
		clock:  clk,
		stopCh: make(chan struct{}),
	}
}

// SetTimeoutHandler registers a callback invoked (outside any lock) for each
// execution the sweep times out.
func (t *Tracker) SetTimeoutHandler(fn func(ExecutionRecord)) {
	t.onTimeoutMu.Lock()
	defer t.onTimeoutMu.Unlock()
	t.onTimeout = fn
}

// CreateExecution records a new PENDING execution and returns its id.
func (t *Tracker) CreateExecution(runID, agentName, userID string) string {
	now := t.clock.Now()
	id := uuid.New().String()
	t.records.Store(id, &entry{rec: ExecutionRecord{
		ExecutionID:   id,
		RunID:         runID,
		AgentName:     agentName,
		UserID:        userID,
		State:         StatePending,
		CreatedAt:     now,
		LastHeartbeat: now,
	}})
	slog.Debug("Execution created", "execution_id", id, "run_id", runID, "agent", agentName)
	return id
}

func (t *Tracker) load(id string) (*entry, error) {
	v, ok := t.records.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v.(*entry), nil
}

// StartExecution moves PENDING → RUNNING.
func (t *Tracker) StartExecution(id string) error {
	e, err := t.load(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.State != StatePending {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, e.rec.State)
	}
	now := t.clock.Now()
	e.rec.State = StateRunning
	e.rec.StartTime = &now
	e.rec.LastHeartbeat = now
	return nil
}

// Heartbeat refreshes a RUNNING execution. It returns false when the
// execution is not RUNNING, which tells the caller to stop working.
func (t *Tracker) Heartbeat(id string) bool {
	e, err := t.load(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.State != StateRunning {
		return false
	}
	e.rec.LastHeartbeat = t.clock.Now()
	return true
}

// UpdateExecutionState moves a RUNNING execution to a terminal state.
// Updating an already terminal execution is a logged no-op.
func (t *Tracker) UpdateExecutionState(id string, state State, detail string) error {
	if !state.IsTerminal() {
		return fmt.Errorf("%w: target %s is not terminal", ErrInvalidTransition, state)
	}
	e, err := t.load(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.rec.State.IsTerminal():
		slog.Warn("Ignoring transition out of terminal state",
			"execution_id", id, "from", e.rec.State, "to", state)
		return nil
	case e.rec.State != StateRunning:
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, e.rec.State, state)
	}

	now := t.clock.Now()
	e.rec.State = state
	e.rec.Detail = detail
	e.rec.EndTime = &now
	e.cancel = nil
	return nil
}

// RegisterCancel attaches the function the sweep calls when it times the
// execution out.
func (t *Tracker) RegisterCancel(id string, cancel context.CancelFunc) error {
	e, err := t.load(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel = cancel
	return nil
}

// Get returns a snapshot of the execution.
func (t *Tracker) Get(id string) (ExecutionRecord, bool) {
	e, err := t.load(id)
	if err != nil {
		return ExecutionRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Active returns snapshots of all PENDING and RUNNING executions.
func (t *Tracker) Active() []ExecutionRecord {
	var out []ExecutionRecord
	t.records.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.rec.State.IsTerminal() {
			out = append(out, e.rec)
		}
		e.mu.Unlock()
		return true
	})
	return out
}

// ActiveForUser returns the active executions started by userID.
func (t *Tracker) ActiveForUser(userID string) []ExecutionRecord {
	all := t.Active()
	out := all[:0]
	for _, r := range all {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// Stats returns counts by state plus sweep totals.
func (t *Tracker) Stats() Stats {
	var s Stats
	t.records.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		switch e.rec.State {
		case StatePending:
			s.Pending++
		case StateRunning:
			s.Running++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		case StateTimedOut:
			s.TimedOut++
		}
		e.mu.Unlock()
		return true
	})

	t.statsMu.Lock()
	s.SweptTimeouts = t.swept
	s.Purged = t.purged
	s.LastSweep = t.last
	t.statsMu.Unlock()
	return s
}
