// Package breaker provides circuit breakers for remote dependencies.
//
// Breakers are keyed by dependency name only. The API takes nothing but a key
// and a func(ctx) error, so breaker state cannot hold request or user data.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/codeready-toolchain/agentrun/pkg/config"
)

// ErrOpen is returned without calling the operation while a breaker is open,
// or while a half-open breaker already has a probe in flight.
var ErrOpen = errors.New("circuit breaker open")

// State is a breaker's position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Snapshot is the observable state of one breaker.
type Snapshot struct {
	Key          string     `json:"key"`
	State        State      `json:"state"`
	FailureCount int        `json:"failure_count"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
}

type breaker struct {
	mu          sync.Mutex
	key         string
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	openedAt    time.Time
	probing     bool
}

// Registry holds one breaker per dependency key, created on first use.
type Registry struct {
	cfg      *config.BreakerConfig
	clock    clockwork.Clock
	breakers sync.Map // key → *breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(cfg *config.BreakerConfig, clk clockwork.Clock) *Registry {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Registry{cfg: cfg, clock: clk}
}

func (r *Registry) get(key string) *breaker {
	if v, ok := r.breakers.Load(key); ok {
		return v.(*breaker)
	}
	v, _ := r.breakers.LoadOrStore(key, &breaker{key: key, state: StateClosed})
	return v.(*breaker)
}

// Do runs op through the breaker for key. It returns an error wrapping ErrOpen
// without calling op when the breaker rejects the call. Errors caused by the
// caller's own context being cancelled do not count as dependency failures.
func (r *Registry) Do(ctx context.Context, key string, op func(ctx context.Context) error) error {
	b := r.get(key)
	probe, err := r.allow(b)
	if err != nil {
		return err
	}

	opErr := op(ctx)

	if opErr != nil && ctx.Err() != nil && errors.Is(opErr, ctx.Err()) {
		r.release(b, probe)
		return opErr
	}
	r.record(b, probe, opErr)
	return opErr
}

func (r *Registry) allow(b *breaker) (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := r.clock.Now()
	switch b.state {
	case StateOpen:
		remaining := r.cfg.Cooldown - now.Sub(b.openedAt)
		if remaining > 0 {
			return false, fmt.Errorf("%w: %s (retry in %s)", ErrOpen, b.key, remaining.Round(time.Millisecond))
		}
		b.state = StateHalfOpen
		b.successes = 0
		b.probing = true
		slog.Info("Circuit breaker half-open", "dependency", b.key)
		return true, nil
	case StateHalfOpen:
		if b.probing {
			return false, fmt.Errorf("%w: %s (probe in flight)", ErrOpen, b.key)
		}
		b.probing = true
		return true, nil
	default:
		return false, nil
	}
}

// release gives back a probe slot without recording an outcome.
func (r *Registry) release(b *breaker, probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (r *Registry) record(b *breaker, probe bool, opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := r.clock.Now()
	if probe {
		b.probing = false
	}

	if opErr == nil {
		switch b.state {
		case StateHalfOpen:
			b.successes++
			if b.successes >= r.cfg.SuccessThreshold {
				b.state = StateClosed
				b.failures = 0
				b.successes = 0
				slog.Info("Circuit breaker closed", "dependency", b.key)
			}
		case StateClosed:
			b.failures = 0
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.successes = 0
		slog.Warn("Circuit breaker re-opened after failed probe", "dependency", b.key, "error", opErr)
	case StateClosed:
		if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > r.cfg.Window {
			b.failures = 0
		}
		b.failures++
		b.lastFailure = now
		if b.failures >= r.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = now
			slog.Warn("Circuit breaker opened",
				"dependency", b.key,
				"failures", b.failures,
				"cooldown", r.cfg.Cooldown,
				"error", opErr)
		}
	}
}

func (b *breaker) snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{Key: b.key, State: b.state, FailureCount: b.failures}
	if b.state != StateClosed {
		at := b.openedAt
		s.OpenedAt = &at
	}
	return s
}

// Get returns the breaker state for key. Unknown keys report CLOSED.
func (r *Registry) Get(key string) Snapshot {
	if v, ok := r.breakers.Load(key); ok {
		return v.(*breaker).snapshot()
	}
	return Snapshot{Key: key, State: StateClosed}
}

// Stats returns every known breaker sorted by key.
func (r *Registry) Stats() []Snapshot {
	var out []Snapshot
	r.breakers.Range(func(_, v any) bool {
		out = append(out, v.(*breaker).snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Reset forces the breaker for key back to CLOSED.
func (r *Registry) Reset(key string) {
	r.breakers.Delete(key)
}
