package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound is returned when agentrun.yaml is missing
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML is returned when the file does not parse
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrAgentNotFound is returned for an unknown agent name
	ErrAgentNotFound = errors.New("agent not found")

	// ErrDependencyNotFound is returned for an unknown remote dependency
	ErrDependencyNotFound = errors.New("dependency not found")

	// ErrInvalidReference marks a cross-reference to something undefined
	ErrInvalidReference = errors.New("invalid configuration reference")

	// ErrMissingRequiredField marks an empty required field
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue marks a field outside its allowed range
	ErrInvalidValue = errors.New("invalid field value")
)

// ValidationError describes which section, entry and field failed validation.
type ValidationError struct {
	Component string // executor, tracker, agent, dependency, ...
	ID        string // entry name within the component
	Field     string // optional
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s '%s': field '%s': %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s '%s': %v", e.Component, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

// LoadError wraps a failure to read or parse a configuration file.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new load error
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
