// Package handlers implements the HTTP endpoints of the weftd API. Handlers
// translate between the JSON edge and the engine; no engine state lives here.
package handlers

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// callerID identifies the requester for audit fields and owner scoping. The
// gateway in front of this service authenticates and stamps X-User-ID; without
// a gateway every caller shares the anonymous owner.
func callerID(c echo.Context) string {
	if id := c.Request().Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}

// limitParam parses the ?limit query parameter, clamped to keep list
// responses bounded.
func limitParam(c echo.Context, def int) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > 200 {
		return 200
	}
	return n
}
