package config

import "sync"

// DefaultAgentName is the agent used when a run request names none.
const DefaultAgentName = "OptimizationPipeline"

// BuiltinConfig holds configuration shipped with the binary. User-defined
// agents with the same name replace these.
type BuiltinConfig struct {
	Agents map[string]AgentConfig
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Agents: initBuiltinAgents(),
	}
}

func initBuiltinAgents() map[string]AgentConfig {
	return map[string]AgentConfig{
		DefaultAgentName: {
			Description: "Five-stage optimization workflow driven by local tools",
			Stages: []StageConfig{
				{Name: "triage", Thought: "Classifying the request", Tool: ToolEcho},
				{Name: "data", Thought: "Collecting usage data", Tool: ToolEcho},
				{Name: "optimization", Thought: "Looking for optimization opportunities", Tool: ToolEcho},
				{Name: "actions", Thought: "Drafting recommended actions", Tool: ToolEcho},
				{Name: "reporting", Thought: "Summarizing findings", Tool: ToolEcho},
			},
		},
		"TriageAgent": {
			Description: "Single-stage request classification",
			Stages: []StageConfig{
				{Name: "triage", Thought: "Classifying the request", Tool: ToolEcho},
			},
		},
	}
}

// mergeAgents overlays user-defined agents on the built-in set.
func mergeAgents(builtin, user map[string]AgentConfig) map[string]*AgentConfig {
	result := make(map[string]*AgentConfig, len(builtin)+len(user))
	for name, agent := range builtin {
		a := agent
		result[name] = &a
	}
	for name, agent := range user {
		a := agent
		result[name] = &a
	}
	return result
}
