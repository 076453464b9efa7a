package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strings"
	"time"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@:-]{0,127}$`)

// InvalidContextError is returned when an ExecutionContext cannot be built
// from the supplied identifiers.
type InvalidContextError struct {
	Field  string
	Reason string
}

func (e *InvalidContextError) Error() string {
	return fmt.Sprintf("invalid execution context: %s %s", e.Field, e.Reason)
}

// ExecutionContext is the immutable identity of one run: who asked, on which
// thread, for which run, over which connection. It is created once per
// request and never shared between requests.
type ExecutionContext struct {
	userID        string
	threadID      string
	runID         string
	connectionID  string
	correlationID string
	createdAt     time.Time
	metadata      map[string]any
}

// NewExecutionContext validates the identifiers and builds a context.
// Metadata is deep-copied; later changes to the caller's map are not visible.
func NewExecutionContext(userID, threadID, runID, connectionID string, metadata map[string]any) (ExecutionContext, error) {
	ids := []struct {
		field string
		value string
	}{
		{"user_id", userID},
		{"thread_id", threadID},
		{"run_id", runID},
		{"connection_id", connectionID},
	}
	for _, id := range ids {
		if strings.TrimSpace(id.value) == "" {
			return ExecutionContext{}, &InvalidContextError{Field: id.field, Reason: "must be a non-empty string"}
		}
	}
	if !userIDPattern.MatchString(userID) {
		return ExecutionContext{}, &InvalidContextError{Field: "user_id", Reason: fmt.Sprintf("has invalid format: %q", userID)}
	}

	return ExecutionContext{
		userID:        userID,
		threadID:      threadID,
		runID:         runID,
		connectionID:  connectionID,
		correlationID: correlationID(userID, threadID, runID, connectionID),
		createdAt:     time.Now().UTC(),
		metadata:      deepCopyMap(metadata),
	}, nil
}

func correlationID(userID, threadID, runID, connectionID string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{userID, threadID, runID, connectionID}, "\x1f")))
	return hex.EncodeToString(sum[:])[:16]
}

func (c ExecutionContext) UserID() string        { return c.userID }
func (c ExecutionContext) ThreadID() string      { return c.threadID }
func (c ExecutionContext) RunID() string         { return c.runID }
func (c ExecutionContext) ConnectionID() string  { return c.connectionID }
func (c ExecutionContext) CorrelationID() string { return c.correlationID }
func (c ExecutionContext) CreatedAt() time.Time  { return c.createdAt }

// IsZero reports whether the context was never constructed.
func (c ExecutionContext) IsZero() bool {
	return c.runID == ""
}

// Metadata returns a deep copy of the context's metadata.
func (c ExecutionContext) Metadata() map[string]any {
	return deepCopyMap(c.metadata)
}

// MetadataString returns a string metadata value, or "" if absent or not a string.
func (c ExecutionContext) MetadataString(key string) string {
	s, _ := c.metadata[key].(string)
	return s
}

// WithMetadata returns a copy of the context with key set to value.
func (c ExecutionContext) WithMetadata(key string, value any) ExecutionContext {
	next := c
	next.metadata = deepCopyMap(c.metadata)
	if next.metadata == nil {
		next.metadata = make(map[string]any, 1)
	}
	next.metadata[key] = deepCopyValue(value)
	return next
}

// Equal reports whether both contexts identify the same run on the same connection.
func (c ExecutionContext) Equal(other ExecutionContext) bool {
	return c.userID == other.userID &&
		c.threadID == other.threadID &&
		c.runID == other.runID &&
		c.connectionID == other.connectionID
}

// LogAttrs returns the identifiers as slog attributes.
func (c ExecutionContext) LogAttrs() []any {
	return []any{
		slog.String("user_id", c.userID),
		slog.String("thread_id", c.threadID),
		slog.String("run_id", c.runID),
		slog.String("correlation_id", c.correlationID),
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case map[string]string:
		return maps.Clone(val)
	default:
		return val
	}
}
