package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/agentrun/pkg/database"
)

// PostgresThreadStore stores messages in the thread_messages table.
type PostgresThreadStore struct {
	client *database.Client
}

// NewPostgresThreadStore creates a store on a migrated client.
func NewPostgresThreadStore(client *database.Client) *PostgresThreadStore {
	return &PostgresThreadStore{client: client}
}

// SaveMessage implements ThreadStore.
func (s *PostgresThreadStore) SaveMessage(ctx context.Context, msg *Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Content == nil {
		msg.Content = map[string]any{}
	}
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return NewValidationError("content", fmt.Sprintf("not JSON serializable: %v", err))
	}

	_, err = s.client.DB().ExecContext(ctx,
		`INSERT INTO thread_messages (id, thread_id, user_id, run_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ThreadID, msg.UserID, msg.RunID, string(msg.Role), string(content), msg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: message %s", ErrAlreadyExists, msg.ID)
		}
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// ListMessages implements ThreadStore.
func (s *PostgresThreadStore) ListMessages(ctx context.Context, userID, threadID string, limit int) ([]Message, error) {
	if err := validateListArgs(userID, threadID); err != nil {
		return nil, err
	}

	// Newest N, then re-ordered oldest first.
	query := `SELECT id, thread_id, user_id, run_id, role, content, created_at FROM (
		SELECT * FROM thread_messages
		WHERE user_id = $1 AND thread_id = $2
		ORDER BY created_at DESC, id DESC`
	args := []any{userID, threadID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	query += `) recent ORDER BY created_at ASC, id ASC`

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m       Message
			role    string
			content []byte
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.RunID, &role, &content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = Role(role)
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to decode message %s content: %w", m.ID, err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return out, nil
}
