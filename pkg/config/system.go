package config

// SlackConfig holds resolved Slack notification configuration.
type SlackConfig struct {
	Enabled  bool
	TokenEnv string // Env var name for Slack bot token (default: "SLACK_BOT_TOKEN")
	Channel  string // Slack channel ID (e.g., "C12345678")
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// PersistenceConfig selects the thread store.
type PersistenceConfig struct {
	Driver PersistenceDriver `yaml:"driver"`
}

// DefaultPersistenceConfig returns the in-memory store.
func DefaultPersistenceConfig() *PersistenceConfig {
	return &PersistenceConfig{Driver: DriverMemory}
}
