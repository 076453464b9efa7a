package faults

import (
	"net/http"
	"time"
)

// ErrorResponse is the structured error returned to callers.
type ErrorResponse struct {
	ErrorCode   string         `json:"error_code"`
	Message     string         `json:"message"`
	UserMessage string         `json:"user_message"`
	Details     map[string]any `json:"details"`
	TraceID     string         `json:"trace_id"`
	Timestamp   time.Time      `json:"timestamp"`
}

var httpStatus = map[string]int{
	CodeValidation:           http.StatusUnprocessableEntity,
	CodeAuthentication:       http.StatusUnauthorized,
	CodeAuthorization:        http.StatusForbidden,
	CodeNotFound:             http.StatusNotFound,
	CodeAlreadyExists:        http.StatusConflict,
	CodeDatabase:             http.StatusInternalServerError,
	CodeServiceUnavailable:   http.StatusServiceUnavailable,
	CodeAgentTimeout:         http.StatusRequestTimeout,
	CodeLLMRateLimit:         http.StatusTooManyRequests,
	CodeExecutionRateLimited: http.StatusTooManyRequests,
}

// HTTPStatus maps an error code to its HTTP status. Unknown codes map to 500.
func HTTPStatus(code string) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

var userMessages = map[string]string{
	CodeValidation:           "The request could not be processed because some input was invalid.",
	CodeAuthentication:       "We could not verify your identity. Please sign in again.",
	CodeAuthorization:        "You do not have permission to perform this action.",
	CodeNotFound:             "The requested item could not be found.",
	CodeAlreadyExists:        "This item already exists.",
	CodeDatabase:             "We had trouble saving or loading your data. Please try again.",
	CodeServiceUnavailable:   "A service we depend on is temporarily unavailable. Please try again shortly.",
	CodeAgentTimeout:         "The agent took too long to respond and was stopped.",
	CodeLLMRateLimit:         "The model service is busy right now. Please try again in a moment.",
	CodeExecutionRateLimited: "The system is overloaded and you have too many runs in progress. Please wait for one to finish.",
	CodeAgentFailed:          "The agent could not complete the request.",
	CodeCancelled:            "The run was cancelled.",
	CodeWebSocket:            "The live connection was interrupted. Please reconnect.",
}

// UserMessage returns the user-facing text for code.
func UserMessage(code string) string {
	if m, ok := userMessages[code]; ok {
		return m
	}
	return "Something went wrong. Please try again."
}

// NewErrorResponse builds the structured response for rec.
func NewErrorResponse(rec ErrorRecord, traceID string) ErrorResponse {
	userMsg := rec.UserMessage
	if userMsg == "" {
		userMsg = UserMessage(rec.Code)
	}
	return ErrorResponse{
		ErrorCode:   rec.Code,
		Message:     rec.Message,
		UserMessage: userMsg,
		Details: map[string]any{
			"error_id":    rec.ErrorID,
			"category":    rec.Category,
			"severity":    rec.Severity,
			"recoverable": rec.IsRecoverable,
		},
		TraceID:   traceID,
		Timestamp: rec.Timestamp.UTC(),
	}
}
