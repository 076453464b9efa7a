package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

const (
	userContextKey = "user_id"

	// tierHeader carries the caller's admission tier. Like the identity
	// headers it is set by the authenticating proxy.
	tierHeader = "X-User-Tier"
)

// extractUser extracts the caller's identity from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email (oauth2-proxy) >
// X-Remote-User (kube-rbac-proxy). Returns "" when none is present.
func extractUser(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return c.Request().Header.Get("X-Remote-User")
}

// requireUser rejects requests without an identity and stores the identity
// on the context for handlers.
func requireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			user := extractUser(c)
			if user == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing user identity")
			}
			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

func userFrom(c *echo.Context) string {
	user, _ := c.Get(userContextKey).(string)
	return user
}
