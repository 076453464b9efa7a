package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// threadMessagesHandler handles GET /api/v1/threads/:id/messages.
// Only the caller's own messages are returned.
func (s *Server) threadMessagesHandler(c *echo.Context) error {
	threadID := c.Param("id")
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread id is required")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	msgs, err := s.deps.Threads.ListMessages(c.Request().Context(), userFrom(c), threadID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ThreadMessagesResponse{ThreadID: threadID, Messages: msgs})
}
