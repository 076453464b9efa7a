package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/agentrun/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Remote tool dependencies are excluded; their state is on /api/v1/breakers.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:      healthStatusHealthy,
		Version:     version.GitCommit,
		Checks:      make(map[string]HealthCheck),
		Executions:  s.deps.Tracker.Stats(),
		Runs:        s.deps.Runs.Stats(),
		Connections: s.registry.Stats(),
	}

	if s.dbClient != nil {
		dbHealth, err := s.dbClient.Health(reqCtx)
		resp.Database = dbHealth
		if err != nil {
			resp.Status = healthStatusUnhealthy
			resp.Checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			resp.Checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	// Orphaned agents ignored their cancellation and still hold resources.
	if resp.Runs.Orphans > 0 {
		if resp.Status == healthStatusHealthy {
			resp.Status = healthStatusDegraded
		}
		resp.Checks["runs"] = HealthCheck{Status: healthStatusDegraded, Message: "agents still running after timeout"}
	} else {
		resp.Checks["runs"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}
