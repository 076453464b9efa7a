// Package config provides configuration management for agentrun,
// including runtime tuning, pipeline agent definitions and remote dependencies.
package config

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// AgentConfig defines a pipeline agent: an ordered list of stages.
// Instances are created per execution by pipeline.Constructor.
type AgentConfig struct {
	// Human-readable description
	Description string `yaml:"description,omitempty"`

	// Stages run in order; each one thinks, then optionally calls a tool.
	Stages []StageConfig `yaml:"stages"`
}

// StageConfig is a single pipeline step.
type StageConfig struct {
	Name string `yaml:"name"`

	// Thought is streamed as agent_thinking before the stage's tool runs.
	Thought string `yaml:"thought,omitempty"`

	// Tool is the tool kind to call. Empty means the stage only thinks.
	Tool ToolKind `yaml:"tool,omitempty"`

	// Dependency names the remote endpoint for tools that need one. It is
	// also the circuit breaker key for the call.
	Dependency string `yaml:"dependency,omitempty"`

	// Input is merged over the run input before the tool call.
	Input map[string]any `yaml:"input,omitempty"`
}

// DependencyConfig is a remote endpoint reachable from pipeline tools.
type DependencyConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Class picks the retry policy: database, llm, network or generic.
	Class string `yaml:"class,omitempty"`
}

// AgentRegistry stores agent configurations in memory with thread-safe access
type AgentRegistry struct {
	agents map[string]*AgentConfig
	mu     sync.RWMutex
}

// NewAgentRegistry creates a new agent registry
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	copied := make(map[string]*AgentConfig, len(agents))
	for k, v := range agents {
		copied[k] = v
	}
	return &AgentRegistry{
		agents: copied,
	}
}

// Get retrieves an agent configuration by name (thread-safe)
func (r *AgentRegistry) Get(name string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return agent, nil
}

// GetAll returns all agent configurations (thread-safe, returns copy)
func (r *AgentRegistry) GetAll() map[string]*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentConfig, len(r.agents))
	for k, v := range r.agents {
		result[k] = v
	}
	return result
}

// Has checks if an agent exists in the registry (thread-safe)
func (r *AgentRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[name]
	return exists
}

// Names returns the sorted agent names.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of agents in the registry (thread-safe)
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// DependencyRegistry stores remote dependency endpoints.
type DependencyRegistry struct {
	deps map[string]*DependencyConfig
	mu   sync.RWMutex
}

// NewDependencyRegistry creates a new dependency registry
func NewDependencyRegistry(deps map[string]*DependencyConfig) *DependencyRegistry {
	copied := make(map[string]*DependencyConfig, len(deps))
	for k, v := range deps {
		copied[k] = v
	}
	return &DependencyRegistry{deps: copied}
}

// Get retrieves a dependency by name (thread-safe)
func (r *DependencyRegistry) Get(name string) (*DependencyConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dep, exists := r.deps[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDependencyNotFound, name)
	}
	return dep, nil
}

// Has checks if a dependency exists (thread-safe)
func (r *DependencyRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.deps[name]
	return exists
}

// GetAll returns all dependencies (thread-safe, returns copy)
func (r *DependencyRegistry) GetAll() map[string]*DependencyConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*DependencyConfig, len(r.deps))
	for k, v := range r.deps {
		result[k] = v
	}
	return result
}

// Len returns the number of dependencies (thread-safe)
func (r *DependencyRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.deps)
}
