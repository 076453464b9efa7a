package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownAgent is returned by a Factory for an unregistered agent name.
var ErrUnknownAgent = errors.New("unknown agent")

// Factory creates a new Agent for each execution.
type Factory interface {
	Create(agentName string, execCtx ExecutionContext) (Agent, error)
}

// Constructor builds a fresh Agent bound to one execution.
type Constructor func(execCtx ExecutionContext) (Agent, error)

// Registry is a Factory backed by named constructors. It stores
// constructors, never agent instances.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds or replaces the constructor for name.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[name]
	return ok
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds a new Agent instance for the given execution.
func (r *Registry) Create(agentName string, execCtx ExecutionContext) (Agent, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[agentName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentName)
	}

	a, err := ctor(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent %q: %w", agentName, err)
	}
	if a == nil {
		return nil, fmt.Errorf("failed to create agent %q: constructor returned nil", agentName)
	}
	return a, nil
}
