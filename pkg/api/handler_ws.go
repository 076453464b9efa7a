package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and hands them to the
// connection registry. A client reconnects by passing the connection_id it
// was issued; ids owned by another user are refused.
func (s *Server) wsHandler(c *echo.Context) error {
	user := userFrom(c)

	connID := c.QueryParam("connection_id")
	if connID == "" {
		connID = uuid.NewString()
	} else if owner, ok := s.registry.Owner(connID); ok && owner != user {
		return echo.NewHTTPError(http.StatusForbidden, "connection belongs to another user")
	}

	// Same-origin requests are always accepted; AllowedOrigins adds to that.
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Events.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.registry.HandleConnection(c.Request().Context(), conn, user, connID)
	return nil
}
