package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

const recentErrorsLimit = 50

// listExecutionsHandler handles GET /api/v1/executions: the caller's
// executions that have not finished.
func (s *Server) listExecutionsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &ExecutionsResponse{
		Executions: s.deps.Tracker.ActiveForUser(userFrom(c)),
	})
}

// errorMetricsHandler handles GET /api/v1/metrics/errors.
func (s *Server) errorMetricsHandler(c *echo.Context) error {
	history := s.deps.Classifier.History()
	return c.JSON(http.StatusOK, &ErrorMetricsResponse{
		Summary: history.Summary(),
		Recent:  history.ForUser(userFrom(c), recentErrorsLimit),
	})
}

// breakersHandler handles GET /api/v1/breakers.
func (s *Server) breakersHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &BreakersResponse{Breakers: s.deps.Breakers.Stats()})
}
