package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/weftworks/weft/cmd/weftd/container"
	"github.com/weftworks/weft/cmd/weftd/handlers"
)

// RegisterExecutionRoutes registers execution control, interaction and event
// stream routes
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	ex := handlers.NewExecutionHandler(c)

	executions := e.Group("/api/v1/executions", apiGuards(c)...)
	{
		executions.GET("/:id", ex.GetExecution)          // GET /api/v1/executions/{execution_id}
		executions.POST("/:id/cancel", ex.CancelExecution) // POST /api/v1/executions/{execution_id}/cancel
		executions.POST("/:id/pause", ex.PauseExecution)   // POST /api/v1/executions/{execution_id}/pause
		executions.POST("/:id/resume", ex.ResumeExecution) // POST /api/v1/executions/{execution_id}/resume

		executions.GET("/:id/interactions", ex.ListInteractions) // GET /api/v1/executions/{execution_id}/interactions
		executions.POST("/:id/interactions/:interaction_id", ex.ResolveInteraction)

		executions.GET("/:id/events", ex.StreamEvents) // GET /api/v1/executions/{execution_id}/events (SSE)
	}
}
