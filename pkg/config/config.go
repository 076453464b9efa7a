package config

// Config is the umbrella configuration object that encapsulates
// all registries, defaults, and configuration state.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Executor    *ExecutorConfig
	Tracker     *TrackerConfig
	Events      *EventsConfig
	Errors      *ErrorsConfig
	Recovery    *RecoveryConfig
	Breaker     *BreakerConfig
	Admission   *AdmissionConfig
	Persistence *PersistenceConfig
	Slack       *SlackConfig

	// Component registries
	AgentRegistry      *AgentRegistry
	DependencyRegistry *DependencyRegistry
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Agents       int
	Dependencies int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.AgentRegistry != nil {
		s.Agents = c.AgentRegistry.Len()
	}
	if c.DependencyRegistry != nil {
		s.Dependencies = c.DependencyRegistry.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetAgent retrieves an agent configuration by name.
func (c *Config) GetAgent(name string) (*AgentConfig, error) {
	return c.AgentRegistry.Get(name)
}

// GetDependency retrieves a remote dependency by name.
func (c *Config) GetDependency(name string) (*DependencyConfig, error) {
	return c.DependencyRegistry.Get(name)
}

// Default returns a fully defaulted configuration with only built-in agents.
// Used by tests and by components constructed outside Initialize.
func Default() *Config {
	return &Config{
		Executor:           DefaultExecutorConfig(),
		Tracker:            DefaultTrackerConfig(),
		Events:             DefaultEventsConfig(),
		Errors:             DefaultErrorsConfig(),
		Recovery:           DefaultRecoveryConfig(),
		Breaker:            DefaultBreakerConfig(),
		Admission:          DefaultAdmissionConfig(),
		Persistence:        DefaultPersistenceConfig(),
		Slack:              resolveSlackConfig(nil),
		AgentRegistry:      NewAgentRegistry(mergeAgents(GetBuiltinConfig().Agents, nil)),
		DependencyRegistry: NewDependencyRegistry(nil),
	}
}
