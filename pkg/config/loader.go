package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file loaded from the config directory.
const FileName = "agentrun.yaml"

// AgentrunYAMLConfig represents the complete agentrun.yaml file structure
type AgentrunYAMLConfig struct {
	Executor     *ExecutorConfig             `yaml:"executor"`
	Tracker      *TrackerConfig              `yaml:"tracker"`
	Events       *EventsConfig               `yaml:"events"`
	Errors       *ErrorsYAMLConfig           `yaml:"errors"`
	Recovery     *RecoveryConfig             `yaml:"recovery"`
	Breaker      *BreakerConfig              `yaml:"breaker"`
	Admission    *AdmissionConfig            `yaml:"admission"`
	Persistence  *PersistenceConfig          `yaml:"persistence"`
	Slack        *SlackYAMLConfig            `yaml:"slack"`
	Agents       map[string]AgentConfig      `yaml:"agents"`
	Dependencies map[string]DependencyConfig `yaml:"dependencies"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load agentrun.yaml from configDir
//  2. Expand {{.VAR}} environment references
//  3. Merge each section over its built-in defaults
//  4. Overlay user agents on the built-in agents
//  5. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"dependencies", stats.Dependencies,
		"persistence", cfg.Persistence.Driver)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	fileCfg, err := loader.loadAgentrunYAML()
	if err != nil {
		return nil, NewLoadError(FileName, err)
	}

	return resolve(configDir, fileCfg)
}

// resolve merges the parsed file over built-in defaults.
func resolve(configDir string, fileCfg *AgentrunYAMLConfig) (*Config, error) {
	executor := DefaultExecutorConfig()
	if err := mergeSection("executor", executor, fileCfg.Executor); err != nil {
		return nil, err
	}
	tracker := DefaultTrackerConfig()
	if err := mergeSection("tracker", tracker, fileCfg.Tracker); err != nil {
		return nil, err
	}
	events := DefaultEventsConfig()
	if err := mergeSection("events", events, fileCfg.Events); err != nil {
		return nil, err
	}
	recovery := DefaultRecoveryConfig()
	if err := mergeSection("recovery", recovery, fileCfg.Recovery); err != nil {
		return nil, err
	}
	breaker := DefaultBreakerConfig()
	if err := mergeSection("breaker", breaker, fileCfg.Breaker); err != nil {
		return nil, err
	}
	admission := DefaultAdmissionConfig()
	if err := mergeSection("admission", admission, fileCfg.Admission); err != nil {
		return nil, err
	}
	persistence := DefaultPersistenceConfig()
	if err := mergeSection("persistence", persistence, fileCfg.Persistence); err != nil {
		return nil, err
	}

	deps := make(map[string]*DependencyConfig, len(fileCfg.Dependencies))
	for name, dep := range fileCfg.Dependencies {
		d := dep
		if d.Class == "" {
			d.Class = "network"
		}
		deps[name] = &d
	}

	return &Config{
		configDir:          configDir,
		Executor:           executor,
		Tracker:            tracker,
		Events:             events,
		Errors:             resolveErrorsConfig(fileCfg.Errors),
		Recovery:           recovery,
		Breaker:            breaker,
		Admission:          admission,
		Persistence:        persistence,
		Slack:              resolveSlackConfig(fileCfg.Slack),
		AgentRegistry:      NewAgentRegistry(mergeAgents(GetBuiltinConfig().Agents, fileCfg.Agents)),
		DependencyRegistry: NewDependencyRegistry(deps),
	}, nil
}

// mergeSection merges a user-provided section into its defaults.
// Non-zero user values override; unset values keep the default.
func mergeSection[T any](name string, defaults *T, user *T) error {
	if user == nil {
		return nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge %s config: %w", name, err)
	}
	return nil
}

func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// ExpandEnv passes the original data through on template errors so the
	// YAML parser reports the problem instead.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadAgentrunYAML() (*AgentrunYAMLConfig, error) {
	var config AgentrunYAMLConfig

	config.Agents = make(map[string]AgentConfig)
	config.Dependencies = make(map[string]DependencyConfig)

	if err := l.loadYAML(FileName, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// resolveErrorsConfig resolves error handling configuration, applying defaults.
func resolveErrorsConfig(y *ErrorsYAMLConfig) *ErrorsConfig {
	cfg := DefaultErrorsConfig()
	if y == nil {
		return cfg
	}
	if y.HistorySize != 0 {
		cfg.HistorySize = y.HistorySize
	}
	if y.RecoverUnknownErrors != nil {
		cfg.RecoverUnknownErrors = *y.RecoverUnknownErrors
	}
	return cfg
}

// resolveSlackConfig resolves Slack configuration from YAML, applying defaults.
func resolveSlackConfig(s *SlackYAMLConfig) *SlackConfig {
	cfg := &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}

	if s == nil {
		return cfg
	}

	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	if s.TokenEnv != "" {
		cfg.TokenEnv = s.TokenEnv
	}
	if s.Channel != "" {
		cfg.Channel = s.Channel
	}

	return cfg
}
