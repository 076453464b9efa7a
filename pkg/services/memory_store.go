package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryThreadStore keeps messages in process memory. Threads are keyed by
// (user, thread) so lookups never cross users.
type MemoryThreadStore struct {
	mu      sync.RWMutex
	threads map[threadKey][]Message
	ids     map[string]struct{}
	now     func() time.Time
}

type threadKey struct {
	userID   string
	threadID string
}

// NewMemoryThreadStore creates an empty in-memory store.
func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{
		threads: make(map[threadKey][]Message),
		ids:     make(map[string]struct{}),
		now:     time.Now,
	}
}

// SaveMessage implements ThreadStore.
func (s *MemoryThreadStore) SaveMessage(_ context.Context, msg *Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	content, err := cloneContent(msg.Content)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if _, dup := s.ids[msg.ID]; dup {
		return fmt.Errorf("%w: message %s", ErrAlreadyExists, msg.ID)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}

	stored := *msg
	stored.Content = content
	key := threadKey{userID: msg.UserID, threadID: msg.ThreadID}
	s.threads[key] = append(s.threads[key], stored)
	s.ids[msg.ID] = struct{}{}
	return nil
}

// ListMessages implements ThreadStore.
func (s *MemoryThreadStore) ListMessages(_ context.Context, userID, threadID string, limit int) ([]Message, error) {
	if err := validateListArgs(userID, threadID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.threads[threadKey{userID: userID, threadID: threadID}]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		c, _ := cloneContent(m.Content)
		m.Content = c
		out = append(out, m)
	}
	return out, nil
}

// cloneContent deep-copies content through JSON, the same shape the
// Postgres store persists.
func cloneContent(content map[string]any) (map[string]any, error) {
	if content == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, NewValidationError("content", fmt.Sprintf("not JSON serializable: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to copy content: %w", err)
	}
	return out, nil
}
