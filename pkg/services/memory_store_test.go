package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryThreadStore_SaveAndList(t *testing.T) {
	store := NewMemoryThreadStore()
	ctx := context.Background()

	for i := range 5 {
		msg := &Message{ThreadID: "t1", UserID: "alice", RunID: fmt.Sprintf("r%d", i), Role: RoleUser, Content: map[string]any{"n": i}}
		require.NoError(t, store.SaveMessage(ctx, msg))
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())
	}

	all, err := store.ListMessages(ctx, "alice", "t1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "r0", all[0].RunID)
	assert.EqualValues(t, 4, all[4].Content["n"])

	recent, err := store.ListMessages(ctx, "alice", "t1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "r3", recent[0].RunID)
	assert.Equal(t, "r4", recent[1].RunID)
}

func TestMemoryThreadStore_ScopedByUser(t *testing.T) {
	store := NewMemoryThreadStore()
	ctx := context.Background()
	require.NoError(t, store.SaveMessage(ctx, &Message{ThreadID: "shared", UserID: "alice", RunID: "r1", Role: RoleUser}))

	msgs, err := store.ListMessages(ctx, "bob", "shared", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryThreadStore_CopiesContent(t *testing.T) {
	store := NewMemoryThreadStore()
	ctx := context.Background()
	content := map[string]any{"nested": map[string]any{"k": "v"}}
	require.NoError(t, store.SaveMessage(ctx, &Message{ThreadID: "t", UserID: "alice", RunID: "r", Role: RoleAgent, Content: content}))

	content["nested"].(map[string]any)["k"] = "changed"
	msgs, err := store.ListMessages(ctx, "alice", "t", 0)
	require.NoError(t, err)
	msgs[0].Content["extra"] = true

	again, err := store.ListMessages(ctx, "alice", "t", 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"nested": map[string]any{"k": "v"}}, again[0].Content)
}

func TestMemoryThreadStore_Errors(t *testing.T) {
	store := NewMemoryThreadStore()
	ctx := context.Background()

	tests := []struct {
		name  string
		msg   *Message
		field string
	}{
		{name: "nil", msg: nil, field: "message"},
		{name: "no thread", msg: &Message{UserID: "u", RunID: "r", Role: RoleUser}, field: "thread_id"},
		{name: "no user", msg: &Message{ThreadID: "t", RunID: "r", Role: RoleUser}, field: "user_id"},
		{name: "no run", msg: &Message{ThreadID: "t", UserID: "u", Role: RoleUser}, field: "run_id"},
		{name: "bad role", msg: &Message{ThreadID: "t", UserID: "u", RunID: "r", Role: "system"}, field: "role"},
		{name: "content not JSON", msg: &Message{ThreadID: "t", UserID: "u", RunID: "r", Role: RoleUser, Content: map[string]any{"x": math.Inf(1)}}, field: "content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.SaveMessage(ctx, tt.msg)
			require.True(t, IsValidationError(err), "got %v", err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	t.Run("duplicate id", func(t *testing.T) {
		msg := &Message{ID: "fixed", ThreadID: "t", UserID: "u", RunID: "r", Role: RoleUser}
		require.NoError(t, store.SaveMessage(ctx, msg))
		dup := *msg
		require.ErrorIs(t, store.SaveMessage(ctx, &dup), ErrAlreadyExists)
	})

	t.Run("list requires ids", func(t *testing.T) {
		_, err := store.ListMessages(ctx, "", "t", 0)
		assert.True(t, IsValidationError(err))
		_, err = store.ListMessages(ctx, "u", "", 0)
		assert.True(t, IsValidationError(err))
	})
}
