package config

import "time"

// ExecutorConfig controls how a single agent run is driven.
type ExecutorConfig struct {
	// DefaultTimeout bounds a run when the caller does not supply a timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// HeartbeatInterval is how often a running execution refreshes its
	// tracker heartbeat. Must be well below tracker.heartbeat_timeout.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MaxTimeout caps caller-supplied timeouts.
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// ShutdownTimeout is the max time to wait for in-flight runs during
	// graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultExecutorConfig returns the built-in executor defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		DefaultTimeout:    30 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		MaxTimeout:        10 * time.Minute,
		ShutdownTimeout:   1 * time.Minute,
	}
}

// TrackerConfig controls the execution tracker's background sweep.
type TrackerConfig struct {
	// HeartbeatTimeout is how long a RUNNING execution can go without a
	// heartbeat before the sweep marks it TIMED_OUT.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// SweepInterval is how often the sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Retention is how long terminal records stay queryable.
	Retention time.Duration `yaml:"retention"`
}

// DefaultTrackerConfig returns the built-in tracker defaults.
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		HeartbeatTimeout: 60 * time.Second,
		SweepInterval:    10 * time.Second,
		Retention:        5 * time.Minute,
	}
}

// EventsConfig controls connection routing and event delivery.
type EventsConfig struct {
	// WriteTimeout bounds a single send to a connection.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// DisconnectGrace is how long a disconnected entry lingers before its
	// routing is removed.
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`

	// BufferOnDisconnect is the number of events kept for a key that is
	// inside its disconnect grace window, flushed on reconnect of the same
	// key. Zero disables buffering: events for a gone connection are dropped.
	BufferOnDisconnect int `yaml:"buffer_on_disconnect"`

	// AllowedOrigins are extra WebSocket origin patterns accepted on upgrade.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultEventsConfig returns the built-in event delivery defaults.
func DefaultEventsConfig() *EventsConfig {
	return &EventsConfig{
		WriteTimeout:       10 * time.Second,
		DisconnectGrace:    30 * time.Second,
		BufferOnDisconnect: 0,
	}
}

// AdmissionConfig caps concurrent executions per user.
type AdmissionConfig struct {
	// MaxConcurrentPerUser applies when the user's tier has no entry in TierLimits.
	MaxConcurrentPerUser int `yaml:"max_concurrent_per_user"`

	// TierLimits overrides the per-user cap by tier (execution metadata "tier").
	TierLimits map[string]int `yaml:"tier_limits"`
}

// DefaultAdmissionConfig returns the built-in admission defaults.
func DefaultAdmissionConfig() *AdmissionConfig {
	return &AdmissionConfig{
		MaxConcurrentPerUser: 3,
		TierLimits:           map[string]int{},
	}
}

// LimitFor returns the concurrency cap for the given tier.
func (c *AdmissionConfig) LimitFor(tier string) int {
	if limit, ok := c.TierLimits[tier]; ok && tier != "" {
		return limit
	}
	return c.MaxConcurrentPerUser
}

// ErrorsConfig controls fault classification and history.
type ErrorsConfig struct {
	// HistorySize is the capacity of the error history ring buffer.
	HistorySize int

	// RecoverUnknownErrors decides whether faults matching no rule are retried.
	RecoverUnknownErrors bool
}

// ErrorsYAMLConfig is the YAML form of ErrorsConfig. The pointer keeps an
// explicit "false" distinguishable from an omitted key.
type ErrorsYAMLConfig struct {
	HistorySize          int   `yaml:"history_size,omitempty"`
	RecoverUnknownErrors *bool `yaml:"recover_unknown_errors,omitempty"`
}

// DefaultErrorsConfig returns the built-in error handling defaults.
func DefaultErrorsConfig() *ErrorsConfig {
	return &ErrorsConfig{
		HistorySize:          1000,
		RecoverUnknownErrors: true,
	}
}
