package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/config"
	"github.com/codeready-toolchain/agentrun/pkg/events"
	"github.com/codeready-toolchain/agentrun/pkg/executor"
)

const (
	runStatusAccepted = "accepted"
	runStatusFinished = "finished"
)

// createRunHandler handles POST /api/v1/runs. By default the run is started
// in the background and its events go to the caller's WebSocket connection;
// with wait=true the result is returned in the response.
func (s *Server) createRunHandler(c *echo.Context) error {
	user := userFrom(c)

	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Agent == "" {
		req.Agent = config.DefaultAgentName
	}
	if req.TimeoutSeconds < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "timeout_seconds must not be negative")
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	runID := uuid.NewString()
	if req.ConnectionID == "" {
		if !req.Wait {
			return echo.NewHTTPError(http.StatusBadRequest, "connection_id is required unless wait is set")
		}
		// Nothing is listening; events are dropped.
		req.ConnectionID = "http-" + runID
	} else if owner, ok := s.registry.Owner(req.ConnectionID); ok && owner != user {
		return echo.NewHTTPError(http.StatusForbidden, "connection belongs to another user")
	}

	var metadata map[string]any
	if tier := c.Request().Header.Get(tierHeader); tier != "" {
		metadata = map[string]any{"tier": tier}
	}
	execCtx, err := agent.NewExecutionContext(user, req.ThreadID, runID, req.ConnectionID, metadata)
	if err != nil {
		return mapServiceError(err)
	}

	resp := &RunResponse{
		RunID:         runID,
		ThreadID:      req.ThreadID,
		ConnectionID:  req.ConnectionID,
		CorrelationID: execCtx.CorrelationID(),
		Agent:         req.Agent,
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second

	if req.Wait {
		result, err := s.execute(c.Request().Context(), execCtx, req.Agent, req.Input, timeout)
		if err != nil {
			return mapServiceError(err)
		}
		if !result.Success {
			return failedRunResponse(c, result)
		}
		resp.Status = runStatusFinished
		resp.Result = result
		return c.JSON(http.StatusOK, resp)
	}

	s.runOwners.Store(runID, user)
	err = s.deps.Runs.Go(c.Request().Context(), runID, func(ctx context.Context) {
		defer s.runOwners.Delete(runID)
		if _, err := s.execute(ctx, execCtx, req.Agent, req.Input, timeout); err != nil {
			slog.Error("Run could not be executed", append(execCtx.LogAttrs(), "error", err)...)
		}
	})
	if err != nil {
		s.runOwners.Delete(runID)
		return mapServiceError(err)
	}

	resp.Status = runStatusAccepted
	return c.JSON(http.StatusAccepted, resp)
}

// execute runs one agent with a request-scoped executor and emitter.
func (s *Server) execute(ctx context.Context, execCtx agent.ExecutionContext, agentName string, input map[string]any, timeout time.Duration) (*agent.ExecutionResult, error) {
	exec := executor.New(s.deps, execCtx, events.NewEmitter(execCtx, s.registry))
	defer exec.Dispose()
	return exec.ExecuteAgent(ctx, agentName, input, timeout)
}

// cancelRunHandler handles DELETE /api/v1/runs/:id.
func (s *Server) cancelRunHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}
	owner, ok := s.runOwners.Load(runID)
	if !ok || owner.(string) != userFrom(c) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if !s.deps.Runs.Cancel(runID) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, &CancelResponse{RunID: runID, Message: "cancellation requested"})
}

// listAgentsHandler handles GET /api/v1/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	names := s.cfg.AgentRegistry.Names()
	resp := &AgentsResponse{Agents: make([]AgentInfo, 0, len(names))}
	for _, name := range names {
		cfg, err := s.cfg.AgentRegistry.Get(name)
		if err != nil {
			continue
		}
		info := AgentInfo{Name: name, Description: cfg.Description, Stages: make([]string, 0, len(cfg.Stages))}
		for _, stage := range cfg.Stages {
			info.Stages = append(info.Stages, stage.Name)
		}
		resp.Agents = append(resp.Agents, info)
	}
	return c.JSON(http.StatusOK, resp)
}
