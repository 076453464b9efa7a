// Package recovery retries recoverable failures with class-specific
// exponential backoff.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/codeready-toolchain/agentrun/pkg/config"
	"github.com/codeready-toolchain/agentrun/pkg/faults"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("recovery attempts exhausted")

// Class selects a retry policy.
type Class string

const (
	ClassDatabase Class = "database"
	ClassLLM      Class = "llm"
	ClassNetwork  Class = "network"
	ClassGeneric  Class = "generic"
)

// ParseClass maps a configured class name to a Class. Unknown names map to
// ClassGeneric.
func ParseClass(s string) Class {
	switch Class(s) {
	case ClassDatabase, ClassLLM, ClassNetwork:
		return Class(s)
	default:
		return ClassGeneric
	}
}

// Operation is a retriable unit of work.
type Operation func(ctx context.Context) (any, error)

// RetryNotify is called before each retry with the attempt about to run.
type RetryNotify func(attempt int, err error, delay time.Duration)

// Strategies holds one Strategy per class.
type Strategies struct {
	byClass map[Class]*Strategy
}

// NewStrategies builds the strategies for every class from cfg.
func NewStrategies(cfg *config.RecoveryConfig, classifier *faults.Classifier, clk clockwork.Clock) *Strategies {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	mk := func(c Class, p config.RetryPolicy) *Strategy {
		return &Strategy{class: c, policy: p, classifier: classifier, clock: clk}
	}
	return &Strategies{byClass: map[Class]*Strategy{
		ClassDatabase: mk(ClassDatabase, cfg.Database),
		ClassLLM:      mk(ClassLLM, cfg.LLM),
		ClassNetwork:  mk(ClassNetwork, cfg.Network),
		ClassGeneric:  mk(ClassGeneric, cfg.Generic),
	}}
}

// For returns the strategy for class, falling back to generic.
func (s *Strategies) For(class Class) *Strategy {
	if st, ok := s.byClass[class]; ok {
		return st
	}
	return s.byClass[ClassGeneric]
}

// Strategy retries one class of operations. It is stateless between calls;
// attempt bookkeeping lives in the caller's ErrorContext.
type Strategy struct {
	class      Class
	policy     config.RetryPolicy
	classifier *faults.Classifier
	clock      clockwork.Clock
}

// Class returns the strategy's class.
func (s *Strategy) Class() Class { return s.class }

// MaxAttempts returns the attempt budget, counting the first try.
func (s *Strategy) MaxAttempts() int {
	if s.policy.MaxAttempts < 1 {
		return 1
	}
	return s.policy.MaxAttempts
}

// Run calls op and retries recoverable failures until it succeeds, a
// non-recoverable error occurs, ctx is done or the attempt budget is spent.
func (s *Strategy) Run(ctx context.Context, ec *faults.ErrorContext, op Operation) (any, error) {
	return s.RunNotify(ctx, ec, op, nil)
}

// RunNotify is Run with a callback before each retry.
func (s *Strategy) RunNotify(ctx context.Context, ec *faults.ErrorContext, op Operation, notify RetryNotify) (any, error) {
	if ec == nil {
		ec = &faults.ErrorContext{}
	}
	res, err := op(ctx)
	ec.RecordAttempt(1, err, 0, s.clock.Now())
	if err == nil {
		return res, nil
	}
	return s.retry(ctx, err, ec, op, notify)
}

// AttemptRecovery retries op after it already failed once with err. It
// returns err unchanged when err is not recoverable or op is nil. On success
// the operation's result is returned as if the first call had succeeded.
func (s *Strategy) AttemptRecovery(ctx context.Context, err error, ec *faults.ErrorContext, op Operation) (any, error) {
	if ec == nil {
		ec = &faults.ErrorContext{}
	}
	if len(ec.Attempts) == 0 {
		ec.RecordAttempt(1, err, 0, s.clock.Now())
	}
	return s.retry(ctx, err, ec, op, nil)
}

func (s *Strategy) retry(ctx context.Context, err error, ec *faults.ErrorContext, op Operation, notify RetryNotify) (any, error) {
	if op == nil || !s.classifier.Classify(err, ec.ExecCtx).Recoverable {
		return nil, err
	}

	b := s.newBackOff()
	for attempt := len(ec.Attempts) + 1; attempt <= s.MaxAttempts(); attempt++ {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}

		slog.Info("Retrying operation",
			"class", s.class,
			"operation", ec.Operation,
			"attempt", attempt,
			"max_attempts", s.MaxAttempts(),
			"delay", delay,
			"correlation_id", ec.ExecCtx.CorrelationID(),
			"error", err)
		if notify != nil {
			notify(attempt, err, delay)
		}

		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return nil, fmt.Errorf("%w: %w", sleepErr, err)
		}

		var res any
		res, err = op(ctx)
		ec.RecordAttempt(attempt, err, delay, s.clock.Now())
		if err == nil {
			slog.Info("Operation recovered",
				"class", s.class,
				"operation", ec.Operation,
				"attempts", attempt,
				"correlation_id", ec.ExecCtx.CorrelationID())
			return res, nil
		}
		if !s.classifier.Classify(err, ec.ExecCtx).Recoverable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, len(ec.Attempts), err)
}

func (s *Strategy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.BaseDelay
	b.MaxInterval = s.policy.MaxDelay
	b.Multiplier = s.policy.Multiplier
	b.RandomizationFactor = s.policy.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (s *Strategy) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	t := s.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}
