// Package routes binds the weftd HTTP surface to its handlers.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/weftworks/weft/cmd/weftd/container"
	"github.com/weftworks/weft/common/middleware"
)

// apiGuards is the middleware stack shared by every /api/v1 group. Without
// Redis there is no counter to enforce against, so the stack is empty.
func apiGuards(c *container.Container) []echo.MiddlewareFunc {
	if c.Limiter == nil {
		return nil
	}
	return []echo.MiddlewareFunc{
		middleware.APIRateLimitMiddleware(c.Limiter, c.Limits.APIPerMinute),
	}
}

// startGuards rate-limits manual execution starts per workflow.
func startGuards(c *container.Container) []echo.MiddlewareFunc {
	if c.Limiter == nil {
		return nil
	}
	return []echo.MiddlewareFunc{
		middleware.StartRateLimitMiddleware(c.Limiter, c.Limits.StartsPerMinute),
	}
}
