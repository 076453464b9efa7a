package events

import "fmt"

// Payload is the event-specific data of a lifecycle event. The set of
// implementations is closed: one struct per EventType, all in this package.
type Payload interface {
	EventType() EventType
	validate() error
}

// AgentStartedPayload is the payload for agent_started events.
type AgentStartedPayload struct {
	AgentName string `json:"agent_name"`
}

// AgentThinkingPayload is the payload for agent_thinking events.
type AgentThinkingPayload struct {
	AgentName string `json:"agent_name"`
	Text      string `json:"text"`
}

// ToolExecutingPayload is the payload for tool_executing events.
type ToolExecutingPayload struct {
	AgentName string         `json:"agent_name"`
	ToolName  string         `json:"tool_name"`
	Input     map[string]any `json:"input,omitempty"`
}

// ToolCompletedPayload is the payload for tool_completed events.
type ToolCompletedPayload struct {
	AgentName string `json:"agent_name"`
	ToolName  string `json:"tool_name"`
	Result    any    `json:"result"`
}

// AgentCompletedPayload is the payload for agent_completed events.
type AgentCompletedPayload struct {
	AgentName string `json:"agent_name"`
	Result    any    `json:"result"`
}

// AgentErrorPayload is the payload for agent_error events. Message is the
// internal description; UserMessage is safe to show to the user.
type AgentErrorPayload struct {
	AgentName   string `json:"agent_name,omitempty"`
	Message     string `json:"message"`
	ErrorType   string `json:"error_type"`
	ErrorCode   string `json:"error_code,omitempty"`
	UserMessage string `json:"user_message,omitempty"`
	TraceID     string `json:"trace_id,omitempty"`
	Recoverable bool   `json:"recoverable"`
	Timeout     bool   `json:"timeout,omitempty"`
}

// AgentProgressPayload is the payload for agent_progress events, used for
// recovery and continuation notices.
type AgentProgressPayload struct {
	AgentName string `json:"agent_name"`
	Message   string `json:"message"`
	Attempt   int    `json:"attempt,omitempty"`
}

func (AgentStartedPayload) EventType() EventType   { return EventTypeAgentStarted }
func (AgentThinkingPayload) EventType() EventType  { return EventTypeAgentThinking }
func (ToolExecutingPayload) EventType() EventType  { return EventTypeToolExecuting }
func (ToolCompletedPayload) EventType() EventType  { return EventTypeToolCompleted }
func (AgentCompletedPayload) EventType() EventType { return EventTypeAgentCompleted }
func (AgentErrorPayload) EventType() EventType     { return EventTypeAgentError }
func (AgentProgressPayload) EventType() EventType  { return EventTypeAgentProgress }

func (p AgentStartedPayload) validate() error {
	return requireFields("agent_name", p.AgentName)
}

func (p AgentThinkingPayload) validate() error {
	return requireFields("agent_name", p.AgentName, "text", p.Text)
}

func (p ToolExecutingPayload) validate() error {
	return requireFields("agent_name", p.AgentName, "tool_name", p.ToolName)
}

func (p ToolCompletedPayload) validate() error {
	return requireFields("agent_name", p.AgentName, "tool_name", p.ToolName)
}

func (p AgentCompletedPayload) validate() error {
	return requireFields("agent_name", p.AgentName)
}

func (p AgentErrorPayload) validate() error {
	return requireFields("message", p.Message, "error_type", p.ErrorType)
}

func (p AgentProgressPayload) validate() error {
	return requireFields("agent_name", p.AgentName, "message", p.Message)
}

// requireFields takes alternating field name / value pairs.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, pairs[i])
		}
	}
	return nil
}

func newPayload(t EventType) (any, error) {
	switch t {
	case EventTypeAgentStarted:
		return &AgentStartedPayload{}, nil
	case EventTypeAgentThinking:
		return &AgentThinkingPayload{}, nil
	case EventTypeToolExecuting:
		return &ToolExecutingPayload{}, nil
	case EventTypeToolCompleted:
		return &ToolCompletedPayload{}, nil
	case EventTypeAgentCompleted:
		return &AgentCompletedPayload{}, nil
	case EventTypeAgentError:
		return &AgentErrorPayload{}, nil
	case EventTypeAgentProgress:
		return &AgentProgressPayload{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

func derefPayload(p any) Payload {
	switch v := p.(type) {
	case *AgentStartedPayload:
		return *v
	case *AgentThinkingPayload:
		return *v
	case *ToolExecutingPayload:
		return *v
	case *ToolCompletedPayload:
		return *v
	case *AgentCompletedPayload:
		return *v
	case *AgentErrorPayload:
		return *v
	case *AgentProgressPayload:
		return *v
	default:
		return nil
	}
}
