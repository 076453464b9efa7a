package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAgent struct {
	execCtx ExecutionContext
	calls   int
}

func (a *countingAgent) Execute(_ context.Context, _ Runtime, _ map[string]any) (any, error) {
	a.calls++
	return a.calls, nil
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry()
	reg.Register("counter", func(execCtx ExecutionContext) (Agent, error) {
		return &countingAgent{execCtx: execCtx}, nil
	})

	ecA, err := NewExecutionContext("alice", "t1", "r1", "c1", nil)
	require.NoError(t, err)
	ecB, err := NewExecutionContext("bob", "t2", "r2", "c2", nil)
	require.NoError(t, err)

	t.Run("each call returns a fresh instance", func(t *testing.T) {
		a1, err := reg.Create("counter", ecA)
		require.NoError(t, err)
		a2, err := reg.Create("counter", ecB)
		require.NoError(t, err)

		assert.NotSame(t, a1, a2)
		assert.Equal(t, "alice", a1.(*countingAgent).execCtx.UserID())
		assert.Equal(t, "bob", a2.(*countingAgent).execCtx.UserID())

		out, _ := a1.Execute(context.Background(), nil, nil)
		assert.Equal(t, 1, out)
		out, _ = a2.Execute(context.Background(), nil, nil)
		assert.Equal(t, 1, out, "state must not carry over between instances")
	})

	t.Run("unknown agent", func(t *testing.T) {
		_, err := reg.Create("missing", ecA)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownAgent)
	})

	t.Run("constructor error is wrapped", func(t *testing.T) {
		boom := errors.New("boom")
		reg.Register("broken", func(ExecutionContext) (Agent, error) { return nil, boom })
		_, err := reg.Create("broken", ecA)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nil instance is rejected", func(t *testing.T) {
		reg.Register("nil", func(ExecutionContext) (Agent, error) { return nil, nil })
		_, err := reg.Create("nil", ecA)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "constructor returned nil")
	})

	assert.True(t, reg.Has("counter"))
	assert.Equal(t, []string{"broken", "counter", "nil"}, reg.Names())
}
