package api

import (
	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/breaker"
	"github.com/codeready-toolchain/agentrun/pkg/database"
	"github.com/codeready-toolchain/agentrun/pkg/events"
	"github.com/codeready-toolchain/agentrun/pkg/executor"
	"github.com/codeready-toolchain/agentrun/pkg/faults"
	"github.com/codeready-toolchain/agentrun/pkg/services"
	"github.com/codeready-toolchain/agentrun/pkg/tracker"
)

// RunResponse is returned by POST /api/v1/runs.
type RunResponse struct {
	RunID         string                 `json:"run_id"`
	ThreadID      string                 `json:"thread_id"`
	ConnectionID  string                 `json:"connection_id"`
	CorrelationID string                 `json:"correlation_id"`
	Agent         string                 `json:"agent"`
	Status        string                 `json:"status"`
	Result        *agent.ExecutionResult `json:"result,omitempty"`
}

// CancelResponse is returned by DELETE /api/v1/runs/:id.
type CancelResponse struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// ThreadMessagesResponse is returned by GET /api/v1/threads/:id/messages.
type ThreadMessagesResponse struct {
	ThreadID string             `json:"thread_id"`
	Messages []services.Message `json:"messages"`
}

// ExecutionsResponse is returned by GET /api/v1/executions.
type ExecutionsResponse struct {
	Executions []tracker.ExecutionRecord `json:"executions"`
}

// ErrorMetricsResponse is returned by GET /api/v1/metrics/errors. Summary
// covers every user; Recent holds only the caller's records.
type ErrorMetricsResponse struct {
	Summary faults.Summary       `json:"summary"`
	Recent  []faults.ErrorRecord `json:"recent"`
}

// BreakersResponse is returned by GET /api/v1/breakers.
type BreakersResponse struct {
	Breakers []breaker.Snapshot `json:"breakers"`
}

// AgentInfo describes one runnable agent.
type AgentInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Stages      []string `json:"stages"`
}

// AgentsResponse is returned by GET /api/v1/agents.
type AgentsResponse struct {
	Agents []AgentInfo `json:"agents"`
}

// HealthCheck is the status of one component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	Checks      map[string]HealthCheck `json:"checks"`
	Database    *database.HealthStatus `json:"database,omitempty"`
	Executions  tracker.Stats          `json:"executions"`
	Runs        executor.PoolStats     `json:"runs"`
	Connections events.RegistryStats   `json:"connections"`
}
