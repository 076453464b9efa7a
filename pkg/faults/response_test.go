package faults

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeValidation, http.StatusUnprocessableEntity},
		{CodeAuthentication, http.StatusUnauthorized},
		{CodeAuthorization, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeDatabase, http.StatusInternalServerError},
		{CodeServiceUnavailable, http.StatusServiceUnavailable},
		{CodeAgentTimeout, http.StatusRequestTimeout},
		{CodeLLMRateLimit, http.StatusTooManyRequests},
		{CodeExecutionRateLimited, http.StatusTooManyRequests},
		{CodeAgentFailed, http.StatusInternalServerError},
		{"SOMETHING_NEW", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}

func TestUserMessage_DiffersFromInternalMessage(t *testing.T) {
	for code := range httpStatus {
		assert.NotEmpty(t, UserMessage(code), code)
	}
	assert.NotEmpty(t, UserMessage("SOMETHING_NEW"))
}

func TestNewErrorResponse(t *testing.T) {
	ts := time.Date(2026, 4, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	rec := ErrorRecord{
		ErrorID:       "err-1",
		Category:      CategoryTimeout,
		Severity:      SeverityLow,
		IsRecoverable: true,
		Code:          CodeAgentTimeout,
		Message:       "context deadline exceeded",
		Timestamp:     ts,
	}

	resp := NewErrorResponse(rec, "trace-1")
	assert.Equal(t, CodeAgentTimeout, resp.ErrorCode)
	assert.Equal(t, "context deadline exceeded", resp.Message)
	assert.Equal(t, UserMessage(CodeAgentTimeout), resp.UserMessage)
	assert.Equal(t, "trace-1", resp.TraceID)
	assert.Equal(t, time.UTC, resp.Timestamp.Location())
	assert.Equal(t, "err-1", resp.Details["error_id"])

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	for _, key := range []string{"error_code", "message", "user_message", "details", "trace_id", "timestamp"} {
		assert.Contains(t, wire, key)
	}
	assert.Equal(t, "2026-04-01T10:00:00Z", wire["timestamp"])
}
