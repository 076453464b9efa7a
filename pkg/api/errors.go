package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/executor"
	"github.com/codeready-toolchain/agentrun/pkg/faults"
	"github.com/codeready-toolchain/agentrun/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	var ctxErr *agent.InvalidContextError
	if errors.As(err, &ctxErr) {
		return echo.NewHTTPError(http.StatusBadRequest, ctxErr.Error())
	}
	var execErr *executor.AgentExecutorError
	if errors.As(err, &execErr) {
		return echo.NewHTTPError(http.StatusBadRequest, execErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, executor.ErrShuttingDown) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// failedRunResponse writes the structured error for a run that did not
// succeed, with the status its error code maps to.
func failedRunResponse(c *echo.Context, result *agent.ExecutionResult) error {
	resp := faults.NewErrorResponse(recordFromResult(result), requestIDFrom(c))
	resp.Details["status"] = result.Status
	for k, v := range result.Metadata {
		if _, set := resp.Details[k]; !set {
			resp.Details[k] = v
		}
	}
	return c.JSON(faults.HTTPStatus(resp.ErrorCode), resp)
}

// recordFromResult rebuilds the error record summary an executor attaches to
// a failed result.
func recordFromResult(result *agent.ExecutionResult) faults.ErrorRecord {
	rec := faults.ErrorRecord{
		Code:        result.ErrorCode,
		Message:     result.Error,
		UserMessage: result.UserMessage,
		Timestamp:   time.Now(),
	}
	if rec.Code == "" {
		rec.Code = faults.CodeInternal
	}
	if v, ok := result.Metadata["error_id"].(string); ok {
		rec.ErrorID = v
	}
	if v, ok := result.Metadata["category"].(string); ok {
		rec.Category = faults.Category(v)
	}
	if v, ok := result.Metadata["severity"].(string); ok {
		rec.Severity = faults.Severity(v)
	}
	if v, ok := result.Metadata["recoverable"].(bool); ok {
		rec.IsRecoverable = v
	}
	return rec
}
