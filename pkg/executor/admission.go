package executor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/codeready-toolchain/agentrun/pkg/config"
)

// ErrOverloaded is returned by Admission.Acquire when the user is at their
// concurrency cap.
var ErrOverloaded = errors.New("too many concurrent executions")

// Admission caps concurrent executions per user. Each user has their own
// counter; users never contend with each other.
type Admission struct {
	cfg      *config.AdmissionConfig
	counters sync.Map // user id → *atomic.Int64
}

// NewAdmission creates an admission gate.
func NewAdmission(cfg *config.AdmissionConfig) *Admission {
	return &Admission{cfg: cfg}
}

func (a *Admission) counter(userID string) *atomic.Int64 {
	if v, ok := a.counters.Load(userID); ok {
		return v.(*atomic.Int64)
	}
	v, _ := a.counters.LoadOrStore(userID, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Acquire takes a slot for userID under the cap of tier. The returned
// release func is safe to call more than once. A limit <= 0 means unlimited.
func (a *Admission) Acquire(userID, tier string) (func(), error) {
	limit := int64(a.cfg.LimitFor(tier))
	c := a.counter(userID)

	for {
		cur := c.Load()
		if limit > 0 && cur >= limit {
			return nil, fmt.Errorf("%w: user %s has %d running (limit %d)", ErrOverloaded, userID, cur, limit)
		}
		if c.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	return sync.OnceFunc(func() { c.Add(-1) }), nil
}

// InFlight returns the number of slots held by userID.
func (a *Admission) InFlight(userID string) int {
	v, ok := a.counters.Load(userID)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int64).Load())
}
