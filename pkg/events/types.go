// Package events delivers run lifecycle events to the WebSocket connection
// that started the run.
//
// Delivery model:
//
//	Emitter (one per run) ──► Registry.Send(user, connection) ──► Sink (WebSocket)
//
// Every run gets its own Emitter bound to one ExecutionContext. The Emitter
// stamps run_id/thread_id itself, serializes the event and hands the bytes to
// the Registry, which routes them to exactly one (user, connection) entry.
// A missing or disconnected entry is a normal outcome reported as "not
// delivered", never as an error. Events are not replayed after a reconnect
// unless events.buffer_on_disconnect is enabled, and then only for the same
// key inside its disconnect grace window.
//
// Per-run ordering holds because each Emitter serializes its sends and the
// Registry holds the per-key lock for the duration of each write.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType identifies a lifecycle event on the wire.
type EventType string

// Canonical lifecycle events.
const (
	EventTypeAgentStarted   EventType = "agent_started"
	EventTypeAgentThinking  EventType = "agent_thinking"
	EventTypeToolExecuting  EventType = "tool_executing"
	EventTypeToolCompleted  EventType = "tool_completed"
	EventTypeAgentCompleted EventType = "agent_completed"
)

// Error and progress variants.
const (
	EventTypeAgentError    EventType = "agent_error"
	EventTypeAgentProgress EventType = "agent_progress"
)

// IsTerminal reports whether the event ends a run.
func (t EventType) IsTerminal() bool {
	return t == EventTypeAgentCompleted || t == EventTypeAgentError
}

var (
	// ErrDisposed is returned by an Emitter after Cleanup.
	ErrDisposed = errors.New("event emitter disposed")

	// ErrContextMismatch is returned when a caller passes a run id that is not
	// the emitter's own.
	ErrContextMismatch = errors.New("run id does not match emitter context")

	// ErrMissingField is returned when a required payload field is empty.
	ErrMissingField = errors.New("missing required event field")

	// ErrSerialization is returned when an event does not survive a JSON round trip.
	ErrSerialization = errors.New("event serialization failed")

	// ErrConnectionOwned is returned when a connection id is registered to
	// another user.
	ErrConnectionOwned = errors.New("connection id belongs to another user")
)

// Event is one lifecycle notification. Data is always the payload type that
// matches Type.
type Event struct {
	Type      EventType
	RunID     string
	ThreadID  string
	Data      Payload
	Timestamp time.Time
}

type wireEvent struct {
	EventType EventType       `json:"event_type"`
	RunID     string          `json:"run_id"`
	ThreadID  string          `json:"thread_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// MarshalJSON renders the wire format with an RFC3339Nano UTC timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Data == nil {
		return nil, fmt.Errorf("%w: data", ErrMissingField)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		EventType: e.Type,
		RunID:     e.RunID,
		ThreadID:  e.ThreadID,
		Data:      data,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// DecodeEvent parses a wire event, decoding Data into the payload type that
// matches event_type.
func DecodeEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if w.EventType == "" || w.ThreadID == "" || len(w.Data) == 0 || w.Timestamp == "" {
		return Event{}, fmt.Errorf("%w: event_type, thread_id, data and timestamp are required", ErrMissingField)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("invalid event timestamp: %w", err)
	}

	payload, err := newPayload(w.EventType)
	if err != nil {
		return Event{}, err
	}
	if err := json.Unmarshal(w.Data, payload); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal %s data: %w", w.EventType, err)
	}

	return Event{
		Type:      w.EventType,
		RunID:     w.RunID,
		ThreadID:  w.ThreadID,
		Data:      derefPayload(payload),
		Timestamp: ts,
	}, nil
}

// ControlMessage is a server → client message that is not a lifecycle event.
type ControlMessage struct {
	Type         string `json:"type"` // "connection.established", "pong"
	ConnectionID string `json:"connection_id,omitempty"`
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action string `json:"action"` // "ping"
}
