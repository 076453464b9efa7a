package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WebSocketSink adapts a coder/websocket connection to Sink.
type WebSocketSink struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketSink wraps an accepted WebSocket connection.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

// Send writes one text message.
func (s *WebSocketSink) Send(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// Close closes the connection with a normal closure. Safe to call repeatedly.
func (s *WebSocketSink) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return s.closeErr
}

// HandleConnection serves one WebSocket connection for userID under
// connectionID. Called by the HTTP handler after upgrade; blocks until the
// connection closes or is replaced by a reconnect with the same key.
func (r *Registry) HandleConnection(ctx context.Context, conn *websocket.Conn, userID, connectionID string) {
	sink := NewWebSocketSink(conn)
	log := slog.With("user_id", userID, "connection_id", connectionID)

	// The sink is not registered yet, so this write cannot race an event.
	if err := sendControl(ctx, sink, r.writeTimeout, ControlMessage{
		Type:         "connection.established",
		ConnectionID: connectionID,
	}); err != nil {
		log.Warn("Failed to send connection established message", "error", err)
		_ = sink.Close()
		return
	}

	entry, err := r.Register(userID, connectionID, sink)
	if err != nil {
		log.Warn("Connection refused", "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer r.Release(entry)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		r.Touch(userID, connectionID)

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("Invalid WebSocket message", "error", err)
			continue
		}

		switch msg.Action {
		case "ping":
			pong, _ := json.Marshal(ControlMessage{Type: "pong"})
			r.Send(ctx, userID, connectionID, pong)
		}
	}
}

func sendControl(ctx context.Context, sink Sink, timeout time.Duration, msg ControlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return sink.Send(writeCtx, data)
}
