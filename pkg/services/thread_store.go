// Package services holds the persistence services behind the HTTP API and
// the executor.
package services

import (
	"context"
	"time"
)

// Role identifies who produced a thread message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleError Role = "error"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleError:
		return true
	}
	return false
}

// Message is one entry in a conversation thread.
type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	UserID    string         `json:"user_id"`
	RunID     string         `json:"run_id"`
	Role      Role           `json:"role"`
	Content   map[string]any `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// ThreadStore persists thread messages. Every read is scoped by user id: a
// thread id alone never grants access to another user's messages.
type ThreadStore interface {
	// SaveMessage stores msg, assigning ID and CreatedAt when unset.
	SaveMessage(ctx context.Context, msg *Message) error
	// ListMessages returns the user's messages in the thread, oldest first.
	// A limit <= 0 returns all messages.
	ListMessages(ctx context.Context, userID, threadID string, limit int) ([]Message, error)
}

// DefaultListLimit caps ListMessages when the caller passes no limit over HTTP.
const DefaultListLimit = 200

func validateMessage(msg *Message) error {
	switch {
	case msg == nil:
		return NewValidationError("message", "required")
	case msg.ThreadID == "":
		return NewValidationError("thread_id", "required")
	case msg.UserID == "":
		return NewValidationError("user_id", "required")
	case msg.RunID == "":
		return NewValidationError("run_id", "required")
	case !msg.Role.IsValid():
		return NewValidationError("role", "must be one of user, agent, error")
	}
	return nil
}

func validateListArgs(userID, threadID string) error {
	if userID == "" {
		return NewValidationError("user_id", "required")
	}
	if threadID == "" {
		return NewValidationError("thread_id", "required")
	}
	return nil
}
