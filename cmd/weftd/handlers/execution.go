package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/weftworks/weft/cmd/weftd/container"
	"github.com/weftworks/weft/cmd/weftd/lifecycle"
	"github.com/weftworks/weft/cmd/weftd/orchestrator"
	"github.com/weftworks/weft/cmd/weftd/scheduler"
	"github.com/weftworks/weft/common/bootstrap"
	"github.com/weftworks/weft/common/models"
	"github.com/weftworks/weft/common/repository"
	"github.com/weftworks/weft/common/sdk"
)

// sseKeepalive is how often an idle event stream emits a comment line so
// intermediaries don't reap the connection.
const sseKeepalive = 15 * time.Second

// ExecutionHandler handles execution lifecycle requests and the event stream
type ExecutionHandler struct {
	components *bootstrap.Components
	executions *repository.ExecutionRepository
	engine     *orchestrator.Orchestrator
	bus        *lifecycle.Bus
	history    *lifecycle.RedisPublisher // nil without redis events
	closing    <-chan struct{}
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{
		components: c.Components,
		executions: c.ExecutionRepo,
		engine:     c.Orchestrator,
		bus:        c.Bus,
		history:    c.RedisEvents,
		closing:    c.Closing,
	}
}

type startExecutionRequest struct {
	TriggerData map[string]any `json:"trigger_data"`
	Wait        bool           `json:"wait"`
}

// StartExecution starts a manual execution of a workflow. With "wait": true
// the response is the final execution context; otherwise the execution id is
// returned immediately and progress flows through the event stream.
// POST /api/v1/workflows/:id/executions
func (h *ExecutionHandler) StartExecution(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	var req startExecutionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	startedBy := callerID(c)
	if req.Wait {
		ec, err := h.engine.Execute(ctx, workflowID, startedBy, req.TriggerData)
		if err != nil {
			return h.startError(c, workflowID, err)
		}
		return c.JSON(http.StatusOK, ec)
	}

	ec, err := h.engine.Start(ctx, workflowID, startedBy, req.TriggerData)
	if err != nil {
		return h.startError(c, workflowID, err)
	}

	h.components.Logger.Info("execution started",
		"execution_id", ec.ExecutionID,
		"workflow_id", workflowID,
		"started_by", startedBy)

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"execution_id": ec.ExecutionID,
		"workflow_id":  workflowID,
		"status":       ec.Status,
	})
}

func (h *ExecutionHandler) startError(c echo.Context, workflowID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "workflow not found",
		})
	case errors.Is(err, orchestrator.ErrDraining):
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "service is shutting down",
		})
	default:
		// Definition, graph and constraint problems; the message names the
		// offending node or field.
		h.components.Logger.Warn("execution rejected", "workflow_id", workflowID, "error", err)
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

type executionResponse struct {
	*models.Execution
	PendingInteractions []*sdk.PendingInteraction `json:"pending_interactions,omitempty"`
}

// GetExecution retrieves an execution record. For paused executions the
// pending interactions are included so a client can resolve them.
// GET /api/v1/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	ctx := c.Request().Context()
	executionID := c.Param("id")

	exec, err := h.executions.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "execution not found",
			})
		}
		h.components.Logger.Error("failed to get execution", "execution_id", executionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to get execution",
		})
	}

	resp := executionResponse{Execution: exec}
	if pending, err := h.engine.PendingInteractions(ctx, executionID); err == nil {
		resp.PendingInteractions = pending
	}

	return c.JSON(http.StatusOK, resp)
}

// ListExecutions lists a workflow's executions, most recent first
// GET /api/v1/workflows/:id/executions?limit=50
func (h *ExecutionHandler) ListExecutions(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	executions, err := h.executions.ListByWorkflow(ctx, workflowID, limitParam(c, 50))
	if err != nil {
		h.components.Logger.Error("failed to list executions", "workflow_id", workflowID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list executions",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflow_id": workflowID,
		"executions":  executions,
		"count":       len(executions),
	})
}

// CancelExecution requests cancellation of a running execution. Cancellation
// is cooperative: in-flight nodes observe context cancellation, so the
// terminal record may land after this returns.
// POST /api/v1/executions/:id/cancel
func (h *ExecutionHandler) CancelExecution(c echo.Context) error {
	ctx := c.Request().Context()
	executionID := c.Param("id")

	if err := h.engine.Cancel(ctx, executionID); err != nil {
		return h.controlError(c, err)
	}

	h.components.Logger.Info("execution cancel requested", "execution_id", executionID)

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"execution_id": executionID,
		"status":       "stopping",
	})
}

// PauseExecution pauses dispatch of new nodes; running nodes finish
// POST /api/v1/executions/:id/pause
func (h *ExecutionHandler) PauseExecution(c echo.Context) error {
	ctx := c.Request().Context()
	executionID := c.Param("id")

	if err := h.engine.Pause(ctx, executionID); err != nil {
		return h.controlError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": executionID,
		"status":       "paused",
	})
}

// ResumeExecution resumes dispatch of a paused execution
// POST /api/v1/executions/:id/resume
func (h *ExecutionHandler) ResumeExecution(c echo.Context) error {
	ctx := c.Request().Context()
	executionID := c.Param("id")

	if err := h.engine.Resume(ctx, executionID); err != nil {
		return h.controlError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": executionID,
		"status":       "running",
	})
}

// ListInteractions lists the pending human interactions of an execution
// GET /api/v1/executions/:id/interactions
func (h *ExecutionHandler) ListInteractions(c echo.Context) error {
	ctx := c.Request().Context()
	executionID := c.Param("id")

	pending, err := h.engine.PendingInteractions(ctx, executionID)
	if err != nil {
		if !errors.Is(err, orchestrator.ErrUnknownExecution) {
			return h.controlError(c, err)
		}
		// Not resident in memory: a finished execution has nothing pending,
		// but an id we never saw is a 404.
		if _, repoErr := h.executions.Get(ctx, executionID); repoErr != nil {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "execution not found",
			})
		}
		pending = nil
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": executionID,
		"interactions": pending,
		"count":        len(pending),
	})
}

// ResolveInteraction resumes a parked node with the caller's decision
// POST /api/v1/executions/:id/interactions/:interaction_id
func (h *ExecutionHandler) ResolveInteraction(c echo.Context) error {
	ctx := c.Request().Context()
	executionID := c.Param("id")
	interactionID := c.Param("interaction_id")

	var req sdk.InteractionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}
	if req.Action == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "action is required",
		})
	}

	if err := h.engine.ResumeInteraction(ctx, executionID, interactionID, &req); err != nil {
		return h.controlError(c, err)
	}

	h.components.Logger.Info("interaction resolved",
		"execution_id", executionID,
		"interaction_id", interactionID,
		"action", req.Action)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id":   executionID,
		"interaction_id": interactionID,
		"action":         req.Action,
		"status":         "resumed",
	})
}

// controlError maps engine control failures onto HTTP statuses: gone or never
// existed, already finished, or a state conflict the message explains.
func (h *ExecutionHandler) controlError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownExecution):
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "execution is not running",
		})
	case errors.Is(err, orchestrator.ErrDraining):
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "service is shutting down",
		})
	case errors.Is(err, scheduler.ErrFinished):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": "execution already finished",
		})
	default:
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// StreamEvents streams an execution's lifecycle events as Server-Sent Events.
// With the Redis event transport enabled the stream opens with a replay of
// recorded events; otherwise it starts at subscribe time. The stream ends on
// a terminal event, client disconnect, or server shutdown.
// GET /api/v1/executions/:id/events
func (h *ExecutionHandler) StreamEvents(c echo.Context) error {
	ctx := c.Request().Context()
	executionID := c.Param("id")

	exec, err := h.executions.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "execution not found",
			})
		}
		h.components.Logger.Error("failed to get execution", "execution_id", executionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to get execution",
		})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost; a
	// client may see an event twice across the seam, never a gap.
	events, unsubscribe := h.bus.Subscribe(executionID)
	defer unsubscribe()

	if h.history != nil {
		replayed, err := h.history.Replay(ctx, executionID)
		if err != nil {
			h.components.Logger.Warn("event replay failed", "execution_id", executionID, "error", err)
		}
		for _, ev := range replayed {
			writeSSE(res, ev)
		}
	}
	res.Flush()

	if statusTerminal(exec.Status) {
		return nil
	}

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.closing:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			writeSSE(res, ev)
			res.Flush()
			if ev.Type == sdk.EventExecutionCompleted ||
				ev.Type == sdk.EventExecutionFailed ||
				ev.Type == sdk.EventExecutionStopped {
				return nil
			}
		case <-keepalive.C:
			fmt.Fprint(res, ": keepalive\n\n")
			res.Flush()
		}
	}
}

func writeSSE(w io.Writer, ev *sdk.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

func statusTerminal(s sdk.ExecutionStatus) bool {
	switch s {
	case sdk.StatusCompleted, sdk.StatusFailed, sdk.StatusStopped:
		return true
	}
	return false
}
