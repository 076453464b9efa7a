package config

import (
	"fmt"
	"net/url"
	"os"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateRuntime(); err != nil {
		return fmt.Errorf("runtime validation failed: %w", err)
	}

	if err := v.validateResilience(); err != nil {
		return fmt.Errorf("resilience validation failed: %w", err)
	}

	if err := v.validateDependencies(); err != nil {
		return fmt.Errorf("dependency validation failed: %w", err)
	}

	// Agents reference dependencies, so they go last.
	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}

	if err := v.validateSlack(); err != nil {
		return fmt.Errorf("slack validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateRuntime() error {
	e := v.cfg.Executor
	if e == nil {
		return fmt.Errorf("executor configuration is nil")
	}
	if e.DefaultTimeout <= 0 {
		return NewValidationError("executor", "executor", "default_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if e.MaxTimeout < e.DefaultTimeout {
		return NewValidationError("executor", "executor", "max_timeout", fmt.Errorf("%w: must be at least default_timeout", ErrInvalidValue))
	}
	if e.HeartbeatInterval <= 0 {
		return NewValidationError("executor", "executor", "heartbeat_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	t := v.cfg.Tracker
	if t == nil {
		return fmt.Errorf("tracker configuration is nil")
	}
	if t.SweepInterval <= 0 {
		return NewValidationError("tracker", "tracker", "sweep_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if t.HeartbeatTimeout <= e.HeartbeatInterval {
		return NewValidationError("tracker", "tracker", "heartbeat_timeout",
			fmt.Errorf("%w: must exceed executor.heartbeat_interval (%s)", ErrInvalidValue, e.HeartbeatInterval))
	}
	if t.Retention < 0 {
		return NewValidationError("tracker", "tracker", "retention", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}

	ev := v.cfg.Events
	if ev == nil {
		return fmt.Errorf("events configuration is nil")
	}
	if ev.WriteTimeout <= 0 {
		return NewValidationError("events", "events", "write_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if ev.BufferOnDisconnect < 0 || ev.BufferOnDisconnect > 1000 {
		return NewValidationError("events", "events", "buffer_on_disconnect", fmt.Errorf("%w: must be between 0 and 1000", ErrInvalidValue))
	}
	if ev.BufferOnDisconnect > 0 && ev.DisconnectGrace <= 0 {
		return NewValidationError("events", "events", "disconnect_grace", fmt.Errorf("%w: buffering requires a positive grace window", ErrInvalidValue))
	}

	a := v.cfg.Admission
	if a == nil {
		return fmt.Errorf("admission configuration is nil")
	}
	if a.MaxConcurrentPerUser < 1 {
		return NewValidationError("admission", "admission", "max_concurrent_per_user", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	for tier, limit := range a.TierLimits {
		if limit < 1 {
			return NewValidationError("admission", tier, "tier_limits", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
	}

	if v.cfg.Errors == nil || v.cfg.Errors.HistorySize < 1 {
		return NewValidationError("errors", "errors", "history_size", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}

	if v.cfg.Persistence == nil || !v.cfg.Persistence.Driver.IsValid() {
		return NewValidationError("persistence", "persistence", "driver", fmt.Errorf("%w: must be memory or postgres", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateResilience() error {
	r := v.cfg.Recovery
	if r == nil {
		return fmt.Errorf("recovery configuration is nil")
	}
	policies := map[string]RetryPolicy{
		"database": r.Database,
		"llm":      r.LLM,
		"network":  r.Network,
		"generic":  r.Generic,
	}
	for class, p := range policies {
		if p.MaxAttempts < 1 {
			return NewValidationError("recovery", class, "max_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
		if p.BaseDelay <= 0 {
			return NewValidationError("recovery", class, "base_delay", fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
		if p.MaxDelay < p.BaseDelay {
			return NewValidationError("recovery", class, "max_delay", fmt.Errorf("%w: must be at least base_delay", ErrInvalidValue))
		}
		if p.Multiplier < 1 {
			return NewValidationError("recovery", class, "multiplier", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
		if p.Jitter < 0 || p.Jitter > 1 {
			return NewValidationError("recovery", class, "jitter", fmt.Errorf("%w: must be between 0 and 1", ErrInvalidValue))
		}
	}

	b := v.cfg.Breaker
	if b == nil {
		return fmt.Errorf("breaker configuration is nil")
	}
	if b.FailureThreshold < 1 {
		return NewValidationError("breaker", "breaker", "failure_threshold", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.SuccessThreshold < 1 {
		return NewValidationError("breaker", "breaker", "success_threshold", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.Cooldown <= 0 {
		return NewValidationError("breaker", "breaker", "cooldown", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if b.Window <= 0 {
		return NewValidationError("breaker", "breaker", "window", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateDependencies() error {
	for name, dep := range v.cfg.DependencyRegistry.GetAll() {
		if dep.URL == "" {
			return NewValidationError("dependency", name, "url", ErrMissingRequiredField)
		}
		u, err := url.Parse(dep.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewValidationError("dependency", name, "url", fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidValue, dep.URL))
		}
		if dep.Timeout < 0 {
			return NewValidationError("dependency", name, "timeout", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
		switch dep.Class {
		case "database", "llm", "network", "generic":
		default:
			return NewValidationError("dependency", name, "class", fmt.Errorf("%w: unknown class %q", ErrInvalidValue, dep.Class))
		}
	}
	return nil
}

func (v *ConfigValidator) validateAgents() error {
	for name, agent := range v.cfg.AgentRegistry.GetAll() {
		if len(agent.Stages) == 0 {
			return NewValidationError("agent", name, "stages", fmt.Errorf("at least one stage required"))
		}
		seen := make(map[string]bool, len(agent.Stages))
		for i, stage := range agent.Stages {
			field := fmt.Sprintf("stages[%d]", i)
			if stage.Name == "" {
				return NewValidationError("agent", name, field+".name", ErrMissingRequiredField)
			}
			if seen[stage.Name] {
				return NewValidationError("agent", name, field+".name", fmt.Errorf("%w: duplicate stage %q", ErrInvalidValue, stage.Name))
			}
			seen[stage.Name] = true

			if stage.Tool == "" {
				if stage.Thought == "" {
					return NewValidationError("agent", name, field, fmt.Errorf("stage must have a thought or a tool"))
				}
				continue
			}
			if !stage.Tool.IsValid() {
				return NewValidationError("agent", name, field+".tool", fmt.Errorf("%w: unknown tool %q", ErrInvalidValue, stage.Tool))
			}
			if stage.Tool.RequiresDependency() && stage.Dependency == "" {
				return NewValidationError("agent", name, field+".dependency", ErrMissingRequiredField)
			}
			if stage.Dependency != "" && !v.cfg.DependencyRegistry.Has(stage.Dependency) {
				return NewValidationError("agent", name, field+".dependency",
					fmt.Errorf("%w: dependency '%s' not found", ErrInvalidReference, stage.Dependency))
			}
		}
	}
	return nil
}

func (v *ConfigValidator) validateSlack() error {
	s := v.cfg.Slack
	if s == nil || !s.Enabled {
		return nil
	}
	if s.Channel == "" {
		return NewValidationError("slack", "slack", "channel", ErrMissingRequiredField)
	}
	if os.Getenv(s.TokenEnv) == "" {
		return NewValidationError("slack", "slack", "token_env",
			fmt.Errorf("environment variable %s is not set", s.TokenEnv))
	}
	return nil
}
