package tracker

import (
	"context"
	"fmt"
	"log/slog"
)

// Start runs the sweep on the clock's ticker until ctx is done or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.run(ctx)
	slog.Info("Execution tracker started",
		"sweep_interval", t.cfg.SweepInterval,
		"heartbeat_timeout", t.cfg.HeartbeatTimeout)
}

// Stop halts the sweep and waits for it to exit. Safe to call repeatedly.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

func (t *Tracker) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := t.clock.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.Chan():
			t.Sweep()
		}
	}
}

// Sweep times out RUNNING executions whose last heartbeat is older than the
// heartbeat timeout and purges terminal records older than the retention
// window. Returns the number of executions timed out.
func (t *Tracker) Sweep() int {
	now := t.clock.Now()
	staleBefore := now.Add(-t.cfg.HeartbeatTimeout)
	purgeBefore := now.Add(-t.cfg.Retention)

	var timedOut []ExecutionRecord
	var cancels []context.CancelFunc
	purged := 0

	t.records.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()

		switch {
		case e.rec.State == StateRunning && e.rec.LastHeartbeat.Before(staleBefore):
			end := now
			e.rec.State = StateTimedOut
			e.rec.EndTime = &end
			e.rec.Detail = fmt.Sprintf("no heartbeat since %s", e.rec.LastHeartbeat.Format("15:04:05.000"))
			timedOut = append(timedOut, e.rec)
			if e.cancel != nil {
				cancels = append(cancels, e.cancel)
				e.cancel = nil
			}
		case e.rec.State.IsTerminal() && e.rec.EndTime != nil && e.rec.EndTime.Before(purgeBefore):
			t.records.CompareAndDelete(k, e)
			purged++
		}
		return true
	})

	for _, cancel := range cancels {
		cancel()
	}

	t.onTimeoutMu.RLock()
	hook := t.onTimeout
	t.onTimeoutMu.RUnlock()
	for _, rec := range timedOut {
		slog.Warn("Execution timed out: missing heartbeat",
			"execution_id", rec.ExecutionID,
			"run_id", rec.RunID,
			"agent", rec.AgentName,
			"last_heartbeat", rec.LastHeartbeat)
		if hook != nil {
			hook(rec)
		}
	}

	t.statsMu.Lock()
	t.swept += len(timedOut)
	t.purged += purged
	t.last = now
	t.statsMu.Unlock()

	return len(timedOut)
}
