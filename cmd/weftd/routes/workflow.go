package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/weftworks/weft/cmd/weftd/container"
	"github.com/weftworks/weft/cmd/weftd/handlers"
)

// RegisterWorkflowRoutes registers workflow CRUD, activation and execution
// start routes
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	wf := handlers.NewWorkflowHandler(c)
	ex := handlers.NewExecutionHandler(c)

	workflows := e.Group("/api/v1/workflows", apiGuards(c)...)
	{
		workflows.POST("", wf.CreateWorkflow)                // POST /api/v1/workflows
		workflows.GET("", wf.ListWorkflows)                  // GET /api/v1/workflows
		workflows.GET("/:id", wf.GetWorkflow)                // GET /api/v1/workflows/{workflow_id}
		workflows.PUT("/:id", wf.UpdateWorkflow)             // PUT /api/v1/workflows/{workflow_id}
		workflows.DELETE("/:id", wf.DeleteWorkflow)          // DELETE /api/v1/workflows/{workflow_id}
		workflows.POST("/:id/activate", wf.ActivateWorkflow)     // POST /api/v1/workflows/{workflow_id}/activate
		workflows.POST("/:id/deactivate", wf.DeactivateWorkflow) // POST /api/v1/workflows/{workflow_id}/deactivate

		workflows.GET("/:id/executions", ex.ListExecutions) // GET /api/v1/workflows/{workflow_id}/executions
		workflows.POST("/:id/executions", ex.StartExecution, startGuards(c)...)
	}
}
