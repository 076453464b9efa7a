package config

import "time"

// RetryPolicy is a class-specific exponential backoff policy.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt: 3 means one try plus two retries.
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	// Jitter is the randomization factor applied to each delay (0..1).
	Jitter float64 `yaml:"jitter"`
}

// RecoveryConfig holds the retry policy for each failure class.
type RecoveryConfig struct {
	Database RetryPolicy `yaml:"database"`
	LLM      RetryPolicy `yaml:"llm"`
	Network  RetryPolicy `yaml:"network"`
	Generic  RetryPolicy `yaml:"generic"`
}

// DefaultRecoveryConfig returns the built-in retry policies.
func DefaultRecoveryConfig() *RecoveryConfig {
	policy := func(attempts int, base time.Duration) RetryPolicy {
		return RetryPolicy{
			MaxAttempts: attempts,
			BaseDelay:   base,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.1,
		}
	}
	return &RecoveryConfig{
		Database: policy(5, 500*time.Millisecond),
		LLM:      policy(3, 2*time.Second),
		Network:  policy(4, 1500*time.Millisecond),
		Generic:  policy(3, 1*time.Second),
	}
}

// BreakerConfig controls per-dependency circuit breakers.
type BreakerConfig struct {
	// FailureThreshold consecutive failures within Window open the breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// SuccessThreshold successful half-open probes close it again.
	SuccessThreshold int `yaml:"success_threshold"`

	// Window resets the failure count when the last failure is older than this.
	Window time.Duration `yaml:"window"`

	// Cooldown is how long an open breaker fails fast before half-opening.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DefaultBreakerConfig returns the built-in circuit breaker defaults.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
	}
}
