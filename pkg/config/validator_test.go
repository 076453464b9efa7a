package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAll(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:   "non-positive default timeout",
			mutate: func(c *Config) { c.Executor.DefaultTimeout = 0 },
			errMsg: "default_timeout",
		},
		{
			name:   "max timeout below default",
			mutate: func(c *Config) { c.Executor.MaxTimeout = time.Second },
			errMsg: "max_timeout",
		},
		{
			name:   "heartbeat timeout not above heartbeat interval",
			mutate: func(c *Config) { c.Tracker.HeartbeatTimeout = c.Executor.HeartbeatInterval },
			errMsg: "heartbeat_timeout",
		},
		{
			name:   "negative disconnect buffer",
			mutate: func(c *Config) { c.Events.BufferOnDisconnect = -1 },
			errMsg: "buffer_on_disconnect",
		},
		{
			name: "buffering without grace window",
			mutate: func(c *Config) {
				c.Events.BufferOnDisconnect = 5
				c.Events.DisconnectGrace = 0
			},
			errMsg: "disconnect_grace",
		},
		{
			name:   "zero per-user admission",
			mutate: func(c *Config) { c.Admission.MaxConcurrentPerUser = 0 },
			errMsg: "max_concurrent_per_user",
		},
		{
			name:   "zero tier limit",
			mutate: func(c *Config) { c.Admission.TierLimits["free"] = 0 },
			errMsg: "free",
		},
		{
			name:   "empty error history",
			mutate: func(c *Config) { c.Errors.HistorySize = 0 },
			errMsg: "history_size",
		},
		{
			name:   "unknown persistence driver",
			mutate: func(c *Config) { c.Persistence.Driver = "mongo" },
			errMsg: "driver",
		},
		{
			name:   "retry policy without attempts",
			mutate: func(c *Config) { c.Recovery.LLM.MaxAttempts = 0 },
			errMsg: "max_attempts",
		},
		{
			name:   "retry jitter out of range",
			mutate: func(c *Config) { c.Recovery.Generic.Jitter = 1.5 },
			errMsg: "jitter",
		},
		{
			name:   "breaker without cooldown",
			mutate: func(c *Config) { c.Breaker.Cooldown = 0 },
			errMsg: "cooldown",
		},
		{
			name: "relative dependency url",
			mutate: func(c *Config) {
				c.DependencyRegistry = NewDependencyRegistry(map[string]*DependencyConfig{
					"billing": {URL: "/usage", Class: "network"},
				})
			},
			errMsg: "absolute URL",
		},
		{
			name: "http stage without dependency",
			mutate: func(c *Config) {
				c.AgentRegistry = NewAgentRegistry(map[string]*AgentConfig{
					"A": {Stages: []StageConfig{{Name: "s", Tool: ToolHTTP}}},
				})
			},
			errMsg: "dependency",
		},
		{
			name: "unknown tool",
			mutate: func(c *Config) {
				c.AgentRegistry = NewAgentRegistry(map[string]*AgentConfig{
					"A": {Stages: []StageConfig{{Name: "s", Tool: "shell"}}},
				})
			},
			errMsg: "unknown tool",
		},
		{
			name: "duplicate stage names",
			mutate: func(c *Config) {
				c.AgentRegistry = NewAgentRegistry(map[string]*AgentConfig{
					"A": {Stages: []StageConfig{{Name: "s", Thought: "x"}, {Name: "s", Thought: "y"}}},
				})
			},
			errMsg: "duplicate stage",
		},
		{
			name: "agent without stages",
			mutate: func(c *Config) {
				c.AgentRegistry = NewAgentRegistry(map[string]*AgentConfig{"A": {}})
			},
			errMsg: "at least one stage",
		},
		{
			name: "slack enabled without channel",
			mutate: func(c *Config) {
				c.Slack.Enabled = true
			},
			errMsg: "channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateSlackRequiresToken(t *testing.T) {
	cfg := Default()
	cfg.Slack.Enabled = true
	cfg.Slack.Channel = "C123"
	cfg.Slack.TokenEnv = "AGENTRUN_TEST_SLACK_TOKEN"

	t.Setenv("AGENTRUN_TEST_SLACK_TOKEN", "")
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTRUN_TEST_SLACK_TOKEN")

	t.Setenv("AGENTRUN_TEST_SLACK_TOKEN", "xoxb-test")
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}
