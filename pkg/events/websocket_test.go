package events

import (
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

	"github.com/codeready-toolchain/agentrun/pkg/config"
)

func setupWSServer(t *testing.T) (*Registry, *httptest.Server) {
	t.Helper()

	reg := NewRegistry(config.DefaultEventsConfig(), clockwork.NewRealClock())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		q := r.URL.Query()
		reg.HandleConnection(r.Context(), conn, q.Get("user"), q.Get("conn"))
	}))
	t.Cleanup(server.Close)
	return reg, server
}

func dialWS(t *testing.T, server *httptest.Server, user, conn string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?user=" + user + "&conn=" + conn
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return data
}

func readControl(t *testing.T, conn *websocket.Conn) ControlMessage {
	t.Helper()
	var msg ControlMessage
	require.NoError(t, json.Unmarshal(readMessage(t, conn), &msg))
	return msg
}

func waitConnected(t *testing.T, reg *Registry, user, conn string) {
	t.Helper()
	require.Eventually(t, func() bool {
		e, ok := reg.Get(user, conn)
		return ok && e.IsConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleConnection_EstablishedAndPing(t *testing.T) {
	reg, server := setupWSServer(t)
	conn := dialWS(t, server, "alice", "c1")

	established := readControl(t, conn)
	assert.Equal(t, "connection.established", established.Type)
	assert.Equal(t, "c1", established.ConnectionID)
	waitConnected(t, reg, "alice", "c1")

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"action":"ping"}`)))
	assert.Equal(t, "pong", readControl(t, conn).Type)
}

func TestHandleConnection_DeliversOnlyToOwner(t *testing.T) {
	reg, server := setupWSServer(t)
	alice := dialWS(t, server, "alice", "c1")
	bob := dialWS(t, server, "bob", "c2")
	readControl(t, alice)
	readControl(t, bob)
	waitConnected(t, reg, "alice", "c1")
	waitConnected(t, reg, "bob", "c2")

	em := NewEmitter(newExecCtx(t, "alice", "t1", "r1", "c1"), reg)
	delivered, err := em.NotifyAgentStarted(context.Background(), "A", "r1")
	require.NoError(t, err)
	require.True(t, delivered)

	evt, err := DecodeEvent(readMessage(t, alice))
	require.NoError(t, err)
	assert.Equal(t, EventTypeAgentStarted, evt.Type)

	// Bob receives nothing: a ping round trip proves no event is queued ahead of the pong.
	require.NoError(t, bob.Write(context.Background(), websocket.MessageText, []byte(`{"action":"ping"}`)))
	assert.Equal(t, "pong", readControl(t, bob).Type)
}

func TestHandleConnection_ReconnectReplacesOldSocket(t *testing.T) {
	reg, server := setupWSServer(t)
	first := dialWS(t, server, "alice", "c1")
	readControl(t, first)
	waitConnected(t, reg, "alice", "c1")
	firstEntry, _ := reg.Get("alice", "c1")

	second := dialWS(t, server, "alice", "c1")
	readControl(t, second)
	require.Eventually(t, func() bool {
		e, ok := reg.Get("alice", "c1")
		return ok && e.IsConnected && e.Generation > firstEntry.Generation
	}, 2*time.Second, 10*time.Millisecond)

	// The replaced socket is closed by the server.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	require.Error(t, err)

	em := NewEmitter(newExecCtx(t, "alice", "t1", "r1", "c1"), reg)
	delivered, err := em.NotifyAgentThinking(context.Background(), "A", "r1", "hello again")
	require.NoError(t, err)
	assert.True(t, delivered)

	evt, err := DecodeEvent(readMessage(t, second))
	require.NoError(t, err)
	assert.Equal(t, "hello again", evt.Data.(AgentThinkingPayload).Text)

	// The first handler's teardown must leave the replacement connected.
	e, ok := reg.Get("alice", "c1")
	require.True(t, ok)
	assert.True(t, e.IsConnected)
}

func TestHandleConnection_ClientCloseUnregisters(t *testing.T) {
	reg, server := setupWSServer(t)
	conn := dialWS(t, server, "alice", "c1")
	readControl(t, conn)
	waitConnected(t, reg, "alice", "c1")

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool {
		e, ok := reg.Get("alice", "c1")
		return ok && !e.IsConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, reg.Send(context.Background(), "alice", "c1", []byte("x")))
}
