package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/config"
	"github.com/codeready-toolchain/agentrun/pkg/faults"
)

// fakeRuntime invokes tools directly and records what the agent reported.
type fakeRuntime struct {
	execCtx  agent.ExecutionContext
	thoughts []string
	calls    []agent.ToolCall
}

func (r *fakeRuntime) Context() agent.ExecutionContext { return r.execCtx }
func (r *fakeRuntime) AgentName() string               { return "test" }

func (r *fakeRuntime) Think(_ context.Context, text string) error {
	r.thoughts = append(r.thoughts, text)
	return nil
}

func (r *fakeRuntime) CallTool(ctx context.Context, call agent.ToolCall) (any, error) {
	r.calls = append(r.calls, call)
	return call.Invoke(ctx, call.Input)
}

func newAgent(t *testing.T, cfg *config.AgentConfig, deps map[string]*config.DependencyConfig) agent.Agent {
	t.Helper()
	reg := agent.NewRegistry()
	RegisterAll(reg, config.NewAgentRegistry(map[string]*config.AgentConfig{"p": cfg}), NewTools(config.NewDependencyRegistry(deps)))
	execCtx, err := agent.NewExecutionContext("alice", "t1", "r1", "c1", nil)
	require.NoError(t, err)
	a, err := reg.Create("p", execCtx)
	require.NoError(t, err)
	return a
}

func TestPipeline_RunsStagesInOrder(t *testing.T) {
	cfg := &config.AgentConfig{Stages: []config.StageConfig{
		{Name: "triage", Thought: "Classifying", Tool: config.ToolEcho},
		{Name: "review"},
		{Name: "report", Tool: config.ToolEcho, Input: map[string]any{"format": "short"}},
	}}
	a := newAgent(t, cfg, nil)
	rt := &fakeRuntime{}

	out, err := a.Execute(context.Background(), rt, map[string]any{"query": "costs"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Classifying", "Running stage review", "Running stage report"}, rt.thoughts)
	require.Len(t, rt.calls, 2)
	assert.Equal(t, "triage.echo", rt.calls[0].Name)
	assert.Equal(t, "short", rt.calls[1].Input["format"])
	assert.Equal(t, "costs", rt.calls[1].Input["query"])
	assert.NotNil(t, rt.calls[1].Input["previous"])

	res := out.(map[string]any)
	assert.Equal(t, "completed", res["status"])
	stages := res["stages"].([]StageResult)
	require.Len(t, stages, 3)
	assert.Equal(t, "review", stages[1].Name)
	assert.Nil(t, stages[1].Output)
}

func TestPipeline_FreshStatePerExecution(t *testing.T) {
	cfg := &config.AgentConfig{Stages: []config.StageConfig{{Name: "only", Tool: config.ToolEcho}}}
	reg := agent.NewRegistry()
	reg.Register("p", Constructor("p", cfg, NewTools(nil)))
	execCtx, err := agent.NewExecutionContext("alice", "t1", "r1", "c1", nil)
	require.NoError(t, err)

	for range 2 {
		a, err := reg.Create("p", execCtx)
		require.NoError(t, err)
		out, err := a.Execute(context.Background(), &fakeRuntime{}, nil)
		require.NoError(t, err)
		assert.Len(t, out.(map[string]any)["stages"], 1)
	}
}

func TestPipeline_EmptyPipelineCannotBeCreated(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("empty", Constructor("empty", &config.AgentConfig{}, NewTools(nil)))
	execCtx, err := agent.NewExecutionContext("alice", "t1", "r1", "c1", nil)
	require.NoError(t, err)
	_, err = reg.Create("empty", execCtx)
	require.Error(t, err)
}

func TestEchoTool(t *testing.T) {
	cfg := &config.AgentConfig{Stages: []config.StageConfig{
		{Name: "a", Tool: config.ToolEcho},
		{Name: "b", Tool: config.ToolEcho},
	}}

	t.Run("fails in the requested stage", func(t *testing.T) {
		rt := &fakeRuntime{}
		_, err := newAgent(t, cfg, nil).Execute(context.Background(), rt, map[string]any{InputFailStage: "b"})
		var fe *faults.Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, faults.CodeAgentFailed, fe.Code)
		assert.Len(t, rt.calls, 2)
	})

	t.Run("delay honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := newAgent(t, cfg, nil).Execute(ctx, &fakeRuntime{}, map[string]any{InputDelay: "1h"})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("invalid delay", func(t *testing.T) {
		_, err := newAgent(t, cfg, nil).Execute(context.Background(), &fakeRuntime{}, map[string]any{InputDelay: "soon"})
		var fe *faults.Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, faults.CategoryValidation, fe.Category)
	})
}

func TestHTTPTool(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	var received atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received.Store(body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"status":"ok","rows":3}`))
	}))
	defer srv.Close()

	cfg := &config.AgentConfig{Stages: []config.StageConfig{
		{Name: "data", Tool: config.ToolHTTP, Dependency: "warehouse"},
	}}
	deps := map[string]*config.DependencyConfig{
		"warehouse": {URL: srv.URL, Timeout: time.Second, Class: "database"},
	}

	t.Run("success", func(t *testing.T) {
		rt := &fakeRuntime{}
		out, err := newAgent(t, cfg, deps).Execute(context.Background(), rt, map[string]any{"query": "q"})
		require.NoError(t, err)
		require.Len(t, rt.calls, 1)
		assert.Equal(t, "warehouse", rt.calls[0].Dependency)
		assert.Equal(t, "database", rt.calls[0].Class)
		assert.Equal(t, "q", received.Load().(map[string]any)["query"])

		stages := out.(map[string]any)["stages"].([]StageResult)
		assert.Equal(t, map[string]any{"status": "ok", "rows": float64(3)}, stages[0].Output)
	})

	tests := []struct {
		status      int
		code        string
		recoverable bool
	}{
		{status: http.StatusServiceUnavailable, code: faults.CodeServiceUnavailable, recoverable: true},
		{status: http.StatusTooManyRequests, code: faults.CodeLLMRateLimit, recoverable: true},
		{status: http.StatusBadRequest, code: faults.CodeValidation, recoverable: false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			status.Store(int32(tt.status))
			defer status.Store(http.StatusOK)

			_, err := newAgent(t, cfg, deps).Execute(context.Background(), &fakeRuntime{}, nil)
			var fe *faults.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.code, fe.Code)
			assert.Equal(t, tt.recoverable, fe.Recoverable)
		})
	}

	t.Run("unknown dependency", func(t *testing.T) {
		_, err := newAgent(t, cfg, nil).Execute(context.Background(), &fakeRuntime{}, nil)
		require.ErrorIs(t, err, config.ErrDependencyNotFound)
	})
}
