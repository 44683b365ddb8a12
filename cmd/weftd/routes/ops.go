package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/weftworks/weft/cmd/weftd/container"
	"github.com/weftworks/weft/cmd/weftd/handlers"
)

// RegisterOpsRoutes registers the node catalog, inbound webhook deliveries
// and the metrics endpoint
func RegisterOpsRoutes(e *echo.Echo, c *container.Container) {
	catalog := handlers.NewCatalogHandler(c)
	e.GET("/api/v1/node-types", catalog.ListNodeTypes, apiGuards(c)...)

	// Webhook triggers of active workflows bind path segments under /hooks.
	e.POST("/hooks/:path", c.Hooks.Handler())

	if c.Components.Telemetry != nil {
		e.GET("/metrics", echo.WrapHandler(c.Components.Telemetry.Handler()))
	}
}
