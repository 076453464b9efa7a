package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/breaker"
	"github.com/codeready-toolchain/agentrun/pkg/config"
	"github.com/codeready-toolchain/agentrun/pkg/events"
	"github.com/codeready-toolchain/agentrun/pkg/executor"
	"github.com/codeready-toolchain/agentrun/pkg/faults"
	"github.com/codeready-toolchain/agentrun/pkg/pipeline"
	"github.com/codeready-toolchain/agentrun/pkg/recovery"
	"github.com/codeready-toolchain/agentrun/pkg/services"
	"github.com/codeready-toolchain/agentrun/pkg/tracker"
)

type testServer struct {
	*httptest.Server
	api      *Server
	registry *events.Registry
	deps     executor.Deps
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	clk := clockwork.NewRealClock()

	factory := agent.NewRegistry()
	pipeline.RegisterAll(factory, cfg.AgentRegistry, pipeline.NewTools(cfg.DependencyRegistry))

	classifier := faults.NewClassifier(cfg.Errors, clk)
	deps := executor.Deps{
		Config:     cfg.Executor,
		Factory:    factory,
		Tracker:    tracker.New(cfg.Tracker, clk),
		Classifier: classifier,
		Recovery:   recovery.NewStrategies(cfg.Recovery, classifier, clk),
		Breakers:   breaker.NewRegistry(cfg.Breaker, clk),
		Admission:  executor.NewAdmission(cfg.Admission),
		Threads:    services.NewMemoryThreadStore(),
		Runs:       executor.NewRunPool(),
		Clock:      clk,
	}
	registry := events.NewRegistry(cfg.Events, clk)
	srv := NewServer(cfg, deps, registry, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		registry.CloseAll()
		ts.Close()
	})
	return &testServer{Server: ts, api: srv, registry: registry, deps: deps}
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Forwarded-User", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) dial(t *testing.T, user, connID string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	if connID != "" {
		url += "?connection_id=" + connID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Forwarded-User": []string{user}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	var established events.ControlMessage
	require.NoError(t, json.Unmarshal(read(t, conn), &established))
	require.Equal(t, "connection.established", established.Type)

	require.Eventually(t, func() bool {
		e, ok := ts.registry.Get(user, established.ConnectionID)
		return ok && e.IsConnected
	}, 2*time.Second, 10*time.Millisecond)
	return conn, established.ConnectionID
}

func read(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return data
}

// readUntilTerminal returns every event for runID up to and including the
// terminal one.
func readUntilTerminal(t *testing.T, conn *websocket.Conn) []events.Event {
	t.Helper()
	var out []events.Event
	for range 100 {
		evt, err := events.DecodeEvent(read(t, conn))
		require.NoError(t, err)
		out = append(out, evt)
		if evt.Type.IsTerminal() {
			return out
		}
	}
	t.Fatal("no terminal event received")
	return nil
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	health := decode[HealthResponse](t, resp)
	assert.Equal(t, healthStatusHealthy, health.Status)
	assert.Nil(t, health.Database)
	assert.Equal(t, healthStatusHealthy, health.Checks["runs"].Status)
}

func TestServer_RequiresIdentity(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/v1/agents", "/api/v1/executions", "/api/v1/metrics/errors", "/api/v1/breakers", "/api/v1/threads/t1/messages"} {
		t.Run(path, func(t *testing.T) {
			resp := ts.do(t, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestServer_ListAgents(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/agents", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	agents := decode[AgentsResponse](t, resp).Agents
	require.Len(t, agents, 2)
	assert.Equal(t, config.DefaultAgentName, agents[0].Name)
	assert.Len(t, agents[0].Stages, 5)
	assert.Equal(t, "TriageAgent", agents[1].Name)
}

func TestServer_CreateRun_Wait(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/runs", "alice", CreateRunRequest{
		ThreadID: "thread-1",
		Input:    map[string]any{"query": "reduce costs"},
		Wait:     true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decode[RunResponse](t, resp)
	assert.Equal(t, runStatusFinished, run.Status)
	assert.Equal(t, config.DefaultAgentName, run.Agent)
	assert.Len(t, run.CorrelationID, 16)
	require.NotNil(t, run.Result)
	assert.True(t, run.Result.Success)

	t.Run("thread holds input and outcome", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/threads/thread-1/messages", "alice", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		msgs := decode[ThreadMessagesResponse](t, resp).Messages
		require.Len(t, msgs, 2)
		assert.Equal(t, services.RoleUser, msgs[0].Role)
		assert.Equal(t, services.RoleAgent, msgs[1].Role)
		assert.Equal(t, run.RunID, msgs[1].RunID)
	})

	t.Run("thread is private", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/threads/thread-1/messages", "bob", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, decode[ThreadMessagesResponse](t, resp).Messages)
	})
}

func TestServer_CreateRun_WaitFailure(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		req    CreateRunRequest
		status int
		code   string
	}{
		{
			name:   "stage failure",
			req:    CreateRunRequest{Agent: "TriageAgent", Input: map[string]any{pipeline.InputFailStage: "triage"}, Wait: true},
			status: http.StatusInternalServerError,
			code:   faults.CodeAgentFailed,
		},
		{
			name:   "unknown agent",
			req:    CreateRunRequest{Agent: "NoSuchAgent", Wait: true},
			status: http.StatusUnprocessableEntity,
			code:   faults.CodeValidation,
		},
		{
			name:   "timeout",
			req:    CreateRunRequest{Agent: "TriageAgent", Input: map[string]any{pipeline.InputDelay: "10s"}, TimeoutSeconds: 1, Wait: true},
			status: http.StatusRequestTimeout,
			code:   faults.CodeAgentTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/api/v1/runs", "alice", tt.req)
			require.Equal(t, tt.status, resp.StatusCode)
			body := decode[faults.ErrorResponse](t, resp)
			assert.Equal(t, tt.code, body.ErrorCode)
			assert.NotEmpty(t, body.UserMessage)
			assert.Equal(t, resp.Header.Get(requestIDHeader), body.TraceID)
			assert.NotEmpty(t, body.Details["error_id"])
		})
	}

	t.Run("failures show up in the caller's metrics", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/metrics/errors", "alice", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		metrics := decode[ErrorMetricsResponse](t, resp)
		assert.GreaterOrEqual(t, metrics.Summary.Total, 3)
		assert.Len(t, metrics.Recent, metrics.Summary.Total)

		resp = ts.do(t, http.MethodGet, "/api/v1/metrics/errors", "bob", nil)
		metrics = decode[ErrorMetricsResponse](t, resp)
		assert.GreaterOrEqual(t, metrics.Summary.Total, 3)
		assert.Empty(t, metrics.Recent)
	})
}

func TestServer_CreateRun_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		user string
		req  any
		msg  string
	}{
		{name: "async needs a connection", user: "alice", req: CreateRunRequest{}, msg: "connection_id"},
		{name: "negative timeout", user: "alice", req: CreateRunRequest{TimeoutSeconds: -1, Wait: true}, msg: "timeout_seconds"},
		{name: "malformed user id", user: "bad user", req: CreateRunRequest{Wait: true}, msg: "user_id"},
		{name: "body is not an object", user: "alice", req: []int{1}, msg: "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/api/v1/runs", tt.user, tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Contains(t, body["message"], tt.msg)
		})
	}
}

func TestServer_AsyncRunStreamsEvents(t *testing.T) {
	ts := newTestServer(t)
	conn, connID := ts.dial(t, "alice", "")

	resp := ts.do(t, http.MethodPost, "/api/v1/runs", "alice", CreateRunRequest{
		Agent:        "TriageAgent",
		ConnectionID: connID,
		Input:        map[string]any{"query": "q"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	run := decode[RunResponse](t, resp)
	assert.Equal(t, runStatusAccepted, run.Status)

	evts := readUntilTerminal(t, conn)
	types := make([]events.EventType, 0, len(evts))
	for _, evt := range evts {
		assert.Equal(t, run.RunID, evt.RunID)
		assert.Equal(t, run.ThreadID, evt.ThreadID)
		types = append(types, evt.Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventTypeAgentStarted,
		events.EventTypeAgentThinking,
		events.EventTypeToolExecuting,
		events.EventTypeToolCompleted,
		events.EventTypeAgentCompleted,
	}, types)

	require.Eventually(t, func() bool {
		return ts.deps.Runs.Stats().Active == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ConnectionsArePerUser(t *testing.T) {
	ts := newTestServer(t)
	_, connID := ts.dial(t, "alice", "")

	t.Run("run on another user's connection", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/runs", "bob", CreateRunRequest{ConnectionID: connID})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("reattach to another user's connection", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/ws?connection_id="+connID, "bob", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestServer_CancelRun(t *testing.T) {
	ts := newTestServer(t)
	conn, connID := ts.dial(t, "alice", "")

	resp := ts.do(t, http.MethodPost, "/api/v1/runs", "alice", CreateRunRequest{
		Agent:        "TriageAgent",
		ConnectionID: connID,
		Input:        map[string]any{pipeline.InputDelay: "1m"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	run := decode[RunResponse](t, resp)

	require.Eventually(t, func() bool {
		resp := ts.do(t, http.MethodGet, "/api/v1/executions", "alice", nil)
		return len(decode[ExecutionsResponse](t, resp).Executions) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp = ts.do(t, http.MethodDelete, "/api/v1/runs/"+run.RunID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/v1/runs/"+run.RunID, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	evts := readUntilTerminal(t, conn)
	assert.Equal(t, events.EventTypeAgentError, evts[len(evts)-1].Type)

	require.Eventually(t, func() bool {
		resp := ts.do(t, http.MethodDelete, "/api/v1/runs/"+run.RunID, "alice", nil)
		return resp.StatusCode == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Breakers(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.deps.Breakers.Do(context.Background(), "warehouse", func(context.Context) error { return nil })

	resp := ts.do(t, http.MethodGet, "/api/v1/breakers", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	breakers := decode[BreakersResponse](t, resp).Breakers
	require.Len(t, breakers, 1)
	assert.Equal(t, "warehouse", breakers[0].Key)
	assert.Equal(t, breaker.StateClosed, breakers[0].State)
}

func TestServer_ShutdownRefusesNewRuns(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.deps.Runs.Shutdown(context.Background()))
	_, connID := ts.dial(t, "alice", "")

	resp := ts.do(t, http.MethodPost, "/api/v1/runs", "alice", CreateRunRequest{ConnectionID: connID})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
