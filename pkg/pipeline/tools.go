package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/config"
	"github.com/codeready-toolchain/agentrun/pkg/faults"
)

// Input keys the echo tool understands.
const (
	// InputFailStage makes the echo tool fail in the named stage.
	InputFailStage = "fail_stage"
	// InputDelay makes the echo tool wait (Go duration string) before answering.
	InputDelay = "delay"
)

// maxResponseBytes caps how much of a dependency response is read.
const maxResponseBytes = 1 << 20

// ErrUnknownTool is returned for a stage whose tool kind has no implementation.
var ErrUnknownTool = errors.New("unknown tool")

// Tools builds the tool functions stages call. It is shared by all runs and
// holds no per-run state.
type Tools struct {
	deps       *config.DependencyRegistry
	httpClient *http.Client
}

// NewTools creates the tool set. deps may be nil when no stage uses the http tool.
func NewTools(deps *config.DependencyRegistry) *Tools {
	if deps == nil {
		deps = config.NewDependencyRegistry(nil)
	}
	return &Tools{
		deps:       deps,
		httpClient: &http.Client{},
	}
}

// Call returns the tool call for one stage. Class comes from the
// dependency's configuration.
func (t *Tools) Call(stage config.StageConfig, input map[string]any) (agent.ToolCall, error) {
	call := agent.ToolCall{
		Name:       stage.Name + "." + string(stage.Tool),
		Dependency: stage.Dependency,
		Input:      input,
	}
	switch stage.Tool {
	case config.ToolEcho:
		call.Invoke = echoTool(stage.Name)
	case config.ToolHTTP:
		dep, err := t.deps.Get(stage.Dependency)
		if err != nil {
			return agent.ToolCall{}, faults.Wrap(err, faults.CategoryValidation, faults.CodeValidation, false)
		}
		call.Class = dep.Class
		call.Invoke = t.httpTool(stage.Dependency, dep)
	default:
		return agent.ToolCall{}, faults.Wrap(fmt.Errorf("%w: %q", ErrUnknownTool, stage.Tool),
			faults.CategoryValidation, faults.CodeValidation, false)
	}
	return call, nil
}

// echoTool answers with its input. It can be told to wait or fail, which
// makes timeouts and failures reproducible without a remote system.
func echoTool(stageName string) agent.ToolFunc {
	return func(ctx context.Context, input map[string]any) (any, error) {
		if raw, ok := input[InputDelay].(string); ok && raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, faults.Wrap(fmt.Errorf("invalid %s %q: %w", InputDelay, raw, err),
					faults.CategoryValidation, faults.CodeValidation, false)
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if input[InputFailStage] == stageName {
			return nil, faults.New(faults.CategoryProcessing, faults.CodeAgentFailed,
				fmt.Sprintf("stage %s failed on request", stageName))
		}
		return map[string]any{
			"status": "ok",
			"stage":  stageName,
			"input":  input,
		}, nil
	}
}

// httpTool POSTs the input as JSON and returns the decoded JSON response.
// 5xx and 429 answers are transient; other non-2xx answers are not.
func (t *Tools) httpTool(name string, dep *config.DependencyConfig) agent.ToolFunc {
	return func(ctx context.Context, input map[string]any) (any, error) {
		if dep.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, dep.Timeout)
			defer cancel()
		}

		body, err := json.Marshal(input)
		if err != nil {
			return nil, faults.Wrap(fmt.Errorf("encode request for %s: %w", name, err),
				faults.CategoryValidation, faults.CodeValidation, false)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, dep.URL, bytes.NewReader(body))
		if err != nil {
			return nil, faults.Wrap(fmt.Errorf("create request for %s: %w", name, err),
				faults.CategoryValidation, faults.CodeValidation, false)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call dependency %s: %w", name, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read response from %s: %w", name, err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, faults.Transient(faults.CategoryProcessing, faults.CodeLLMRateLimit,
				fmt.Sprintf("dependency %s rate limited the request", name))
		case resp.StatusCode >= 500:
			return nil, faults.Transient(faults.CategoryNetwork, faults.CodeServiceUnavailable,
				fmt.Sprintf("dependency %s returned HTTP %d", name, resp.StatusCode))
		case resp.StatusCode >= 300:
			return nil, faults.New(faults.CategoryValidation, faults.CodeValidation,
				fmt.Sprintf("dependency %s rejected the request with HTTP %d", name, resp.StatusCode))
		}

		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, faults.New(faults.CategoryProcessing, faults.CodeAgentFailed,
				fmt.Sprintf("dependency %s returned invalid JSON: %v", name, err))
		}
		return out, nil
	}
}
