// Package pipeline implements configurable staged agents. A pipeline agent
// walks its stages in order, streaming a thought for each and calling the
// stage's tool through the runtime.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/config"
)

// StageResult is the outcome of one stage.
type StageResult struct {
	Name   string `json:"name"`
	Output any    `json:"output,omitempty"`
}

// Agent runs one pipeline. A new Agent is built for every execution; its
// fields are per-run state.
type Agent struct {
	name    string
	cfg     *config.AgentConfig
	tools   *Tools
	results []StageResult
}

// Constructor returns an agent.Constructor for the named pipeline.
func Constructor(name string, cfg *config.AgentConfig, tools *Tools) agent.Constructor {
	return func(agent.ExecutionContext) (agent.Agent, error) {
		if len(cfg.Stages) == 0 {
			return nil, fmt.Errorf("pipeline %s has no stages", name)
		}
		return &Agent{name: name, cfg: cfg, tools: tools}, nil
	}
}

// RegisterAll registers every configured pipeline in reg.
func RegisterAll(reg *agent.Registry, agents *config.AgentRegistry, tools *Tools) {
	for name, cfg := range agents.GetAll() {
		reg.Register(name, Constructor(name, cfg, tools))
	}
	slog.Info("Pipeline agents registered", "count", agents.Len())
}

// Execute implements agent.Agent.
func (a *Agent) Execute(ctx context.Context, rt agent.Runtime, input map[string]any) (any, error) {
	var previous any
	for _, stage := range a.cfg.Stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		thought := stage.Thought
		if thought == "" {
			thought = "Running stage " + stage.Name
		}
		if err := rt.Think(ctx, thought); err != nil {
			return nil, err
		}
		if stage.Tool == "" {
			a.results = append(a.results, StageResult{Name: stage.Name})
			continue
		}

		stageInput := maps.Clone(input)
		if stageInput == nil {
			stageInput = map[string]any{}
		}
		maps.Copy(stageInput, stage.Input)
		if previous != nil {
			stageInput["previous"] = previous
		}

		call, err := a.tools.Call(stage, stageInput)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name, err)
		}
		out, err := rt.CallTool(ctx, call)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name, err)
		}
		previous = out
		a.results = append(a.results, StageResult{Name: stage.Name, Output: out})
	}

	return map[string]any{
		"status": "completed",
		"agent":  a.name,
		"stages": a.results,
	}, nil
}
