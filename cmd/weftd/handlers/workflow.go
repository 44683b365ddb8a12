package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/weftworks/weft/cmd/weftd/container"
	"github.com/weftworks/weft/cmd/weftd/graph"
	"github.com/weftworks/weft/cmd/weftd/triggers"
	"github.com/weftworks/weft/common/bootstrap"
	"github.com/weftworks/weft/common/models"
	"github.com/weftworks/weft/common/repository"
	"github.com/weftworks/weft/common/sdk"
)

// WorkflowHandler handles workflow CRUD and activation requests
type WorkflowHandler struct {
	components *bootstrap.Components
	workflows  *repository.WorkflowRepository
	triggers   *triggers.Manager
	registry   *sdk.Registry
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{
		components: c.Components,
		workflows:  c.WorkflowRepo,
		triggers:   c.Triggers,
		registry:   c.Registry,
	}
}

type workflowRequest struct {
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
}

// validateDefinition parses a definition document and rejects graphs the
// engine could never run: unparseable JSON, unknown node types, bad edges,
// cycles without a loop controller.
func (h *WorkflowHandler) validateDefinition(raw []byte) (*sdk.WorkflowDefinition, error) {
	def, err := sdk.ParseDefinition(raw)
	if err != nil {
		return nil, err
	}
	for i := range def.Nodes {
		if _, ok := h.registry.Capabilities(def.Nodes[i].NodeType); !ok {
			return nil, fmt.Errorf("unknown node type %q (node %s)", def.Nodes[i].NodeType, def.Nodes[i].NodeID)
		}
	}
	if _, err := graph.Build(def); err != nil {
		return nil, err
	}
	return def, nil
}

// CreateWorkflow stores a new workflow definition
// POST /api/v1/workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}
	if len(req.Definition) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "definition is required",
		})
	}

	def, err := h.validateDefinition(req.Definition)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}

	workflowID := def.WorkflowID
	if workflowID == "" {
		workflowID = uuid.New().String()
	}
	name := req.Name
	if name == "" {
		name = def.Name
	}
	if name == "" {
		name = "untitled"
	}

	now := time.Now().UTC()
	wf := &models.Workflow{
		WorkflowID: workflowID,
		Name:       name,
		Definition: req.Definition,
		Active:     false,
		OwnerID:    callerID(c),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.workflows.Create(ctx, wf); err != nil {
		h.components.Logger.Error("failed to create workflow", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to create workflow",
		})
	}

	h.components.Logger.Info("workflow created",
		"workflow_id", workflowID,
		"name", name,
		"nodes", len(def.Nodes),
		"owner_id", wf.OwnerID)

	return c.JSON(http.StatusCreated, wf)
}

// GetWorkflow retrieves a workflow by id
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	wf, err := h.workflows.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		h.components.Logger.Error("failed to get workflow", "workflow_id", workflowID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to get workflow",
		})
	}

	return c.JSON(http.StatusOK, wf)
}

// ListWorkflows lists the caller's workflows, most recently updated first
// GET /api/v1/workflows?limit=50
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()

	workflows, err := h.workflows.ListByOwner(ctx, callerID(c), limitParam(c, 50))
	if err != nil {
		h.components.Logger.Error("failed to list workflows", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list workflows",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// UpdateWorkflow replaces a workflow's name and definition. If the workflow
// is active its trigger monitors are rebound so they observe the new
// definition; executions already in flight keep the definition they started
// with.
// PUT /api/v1/workflows/:id
func (h *WorkflowHandler) UpdateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}
	if len(req.Definition) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "definition is required",
		})
	}

	def, err := h.validateDefinition(req.Definition)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}

	name := req.Name
	if name == "" {
		name = def.Name
	}
	if name == "" {
		name = "untitled"
	}

	wf := &models.Workflow{
		WorkflowID: workflowID,
		Name:       name,
		Definition: req.Definition,
	}
	if err := h.workflows.Update(ctx, wf); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		h.components.Logger.Error("failed to update workflow", "workflow_id", workflowID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to update workflow",
		})
	}

	rebound := false
	if h.triggers.IsWorkflowActive(workflowID) {
		h.triggers.Deactivate(ctx, workflowID)
		if err := h.triggers.Activate(ctx, workflowID); err != nil {
			// The new definition lost its trigger nodes; reflect that.
			h.components.Logger.Warn("workflow no longer activatable after update",
				"workflow_id", workflowID, "error", err)
			if err := h.workflows.SetActive(ctx, workflowID, false); err != nil {
				h.components.Logger.Error("failed to clear active flag", "workflow_id", workflowID, "error", err)
			}
		} else {
			rebound = true
		}
	}

	h.components.Logger.Info("workflow updated",
		"workflow_id", workflowID,
		"nodes", len(def.Nodes),
		"triggers_rebound", rebound)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflow_id":      workflowID,
		"name":             name,
		"triggers_rebound": rebound,
	})
}

// DeleteWorkflow removes a workflow. Trigger monitors are stopped and
// in-flight executions cancelled first; finished execution records remain.
// DELETE /api/v1/workflows/:id
func (h *WorkflowHandler) DeleteWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	if h.triggers.IsWorkflowActive(workflowID) {
		h.triggers.Deactivate(ctx, workflowID)
	}

	if err := h.workflows.Delete(ctx, workflowID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		h.components.Logger.Error("failed to delete workflow", "workflow_id", workflowID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to delete workflow",
		})
	}

	h.components.Logger.Info("workflow deleted", "workflow_id", workflowID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflow_id": workflowID,
		"deleted":     true,
	})
}

// ActivateWorkflow starts trigger monitoring for a workflow
// POST /api/v1/workflows/:id/activate
func (h *WorkflowHandler) ActivateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	if err := h.triggers.Activate(ctx, workflowID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}

	if err := h.workflows.SetActive(ctx, workflowID, true); err != nil {
		h.components.Logger.Error("failed to persist active flag", "workflow_id", workflowID, "error", err)
		h.triggers.Deactivate(ctx, workflowID)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to activate workflow",
		})
	}

	h.components.Logger.Info("workflow activated", "workflow_id", workflowID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflow_id": workflowID,
		"active":      true,
	})
}

// DeactivateWorkflow stops trigger monitoring and cancels the executions the
// workflow's triggers spawned
// POST /api/v1/workflows/:id/deactivate
func (h *WorkflowHandler) DeactivateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	h.triggers.Deactivate(ctx, workflowID)

	if err := h.workflows.SetActive(ctx, workflowID, false); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		h.components.Logger.Error("failed to persist active flag", "workflow_id", workflowID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to deactivate workflow",
		})
	}

	h.components.Logger.Info("workflow deactivated", "workflow_id", workflowID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflow_id": workflowID,
		"active":      false,
	})
}
