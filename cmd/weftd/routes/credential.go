package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/weftworks/weft/cmd/weftd/container"
	"github.com/weftworks/weft/cmd/weftd/handlers"
)

// RegisterCredentialRoutes registers credential management routes
func RegisterCredentialRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewCredentialHandler(c)

	credentials := e.Group("/api/v1/credentials", apiGuards(c)...)
	{
		credentials.POST("", h.CreateCredential)       // POST /api/v1/credentials
		credentials.GET("", h.ListCredentials)         // GET /api/v1/credentials
		credentials.PUT("/:id", h.UpdateCredential)    // PUT /api/v1/credentials/{credential_id}
		credentials.DELETE("/:id", h.DeleteCredential) // DELETE /api/v1/credentials/{credential_id}
	}
}
