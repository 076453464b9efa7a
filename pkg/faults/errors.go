// Package faults classifies errors raised during agent execution, records
// them in a bounded history and turns them into structured error responses.
package faults

import "fmt"

// Category is the failure class of an error.
type Category string

const (
	CategoryDatabase   Category = "DATABASE"
	CategoryValidation Category = "VALIDATION"
	CategoryNetwork    Category = "NETWORK"
	CategoryProcessing Category = "PROCESSING"
	CategoryWebSocket  Category = "WEBSOCKET"
	CategoryTimeout    Category = "TIMEOUT"
	CategoryAuth       Category = "AUTH"
	CategoryUnknown    Category = "UNKNOWN"
)

// Severity ranks how bad an error is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Error codes surfaced to callers.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeAuthentication       = "AUTHENTICATION_FAILED"
	CodeAuthorization        = "AUTHORIZATION_FAILED"
	CodeNotFound             = "RECORD_NOT_FOUND"
	CodeAlreadyExists        = "RECORD_ALREADY_EXISTS"
	CodeDatabase             = "DATABASE_ERROR"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeAgentTimeout         = "AGENT_TIMEOUT"
	CodeLLMRateLimit         = "LLM_RATE_LIMIT_EXCEEDED"
	CodeExecutionRateLimited = "EXECUTION_RATE_LIMITED"
	CodeAgentFailed          = "AGENT_EXECUTION_FAILED"
	CodeCancelled            = "EXECUTION_CANCELLED"
	CodeWebSocket            = "WEBSOCKET_ERROR"
	CodeInternal             = "INTERNAL_ERROR"
)

// Error is an error whose classification is decided by the code that raised
// it. The classifier trusts it over every other rule.
type Error struct {
	Category    Category
	Code        string
	Recoverable bool
	Message     string
	Err         error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a non-recoverable classified error.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// Transient creates a recoverable classified error.
func Transient(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message, Recoverable: true}
}

// Wrap classifies err explicitly. A nil err yields nil.
func Wrap(err error, category Category, code string, recoverable bool) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Code: code, Recoverable: recoverable, Err: err}
}
