package api

import (
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

const (
	requestIDHeader     = "X-Request-ID"
	requestIDContextKey = "request_id"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}

// requestID propagates the caller's X-Request-ID or issues a new one. The id
// is returned as trace_id in structured error responses.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			c.Set(requestIDContextKey, id)
			c.Response().Header().Set(requestIDHeader, id)
			return next(c)
		}
	}
}

func requestIDFrom(c *echo.Context) string {
	id, _ := c.Get(requestIDContextKey).(string)
	return id
}
