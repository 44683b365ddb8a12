package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/weftworks/weft/cmd/weftd/container"
	"github.com/weftworks/weft/common/bootstrap"
	"github.com/weftworks/weft/common/models"
	"github.com/weftworks/weft/common/repository"
)

// CredentialHandler handles credential requests. Field values flow in on
// create and update only; every response carries metadata alone.
type CredentialHandler struct {
	components  *bootstrap.Components
	credentials *repository.CredentialRepository // nil without a master key
}

// NewCredentialHandler creates a new credential handler
func NewCredentialHandler(c *container.Container) *CredentialHandler {
	return &CredentialHandler{
		components:  c.Components,
		credentials: c.CredentialRepo,
	}
}

func (h *CredentialHandler) storeDisabled(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
		"error": "credential store is not configured",
	})
}

type credentialRequest struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Fields map[string]string `json:"fields"`
}

// CreateCredential stores a new credential
// POST /api/v1/credentials
func (h *CredentialHandler) CreateCredential(c echo.Context) error {
	if h.credentials == nil {
		return h.storeDisabled(c)
	}
	ctx := c.Request().Context()

	var req credentialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "name is required",
		})
	}
	if len(req.Fields) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "fields are required",
		})
	}
	if req.Type == "" {
		req.Type = "generic"
	}

	now := time.Now().UTC()
	cred := &models.Credential{
		Name:      req.Name,
		Type:      req.Type,
		OwnerID:   callerID(c),
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := h.credentials.Create(ctx, cred, req.Fields)
	if err != nil {
		h.components.Logger.Error("failed to create credential", "name", req.Name, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to create credential",
		})
	}

	h.components.Logger.Info("credential created",
		"credential_id", id,
		"name", req.Name,
		"type", req.Type,
		"owner_id", cred.OwnerID)

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":   id,
		"name": req.Name,
		"type": req.Type,
	})
}

// ListCredentials lists the caller's credentials, metadata only
// GET /api/v1/credentials
func (h *CredentialHandler) ListCredentials(c echo.Context) error {
	if h.credentials == nil {
		return h.storeDisabled(c)
	}
	ctx := c.Request().Context()

	credentials, err := h.credentials.ListByOwner(ctx, callerID(c))
	if err != nil {
		h.components.Logger.Error("failed to list credentials", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list credentials",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"credentials": credentials,
		"count":       len(credentials),
	})
}

// UpdateCredential replaces a credential's field values
// PUT /api/v1/credentials/:id
func (h *CredentialHandler) UpdateCredential(c echo.Context) error {
	if h.credentials == nil {
		return h.storeDisabled(c)
	}
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "credential id must be an integer",
		})
	}

	var req credentialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}
	if len(req.Fields) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "fields are required",
		})
	}

	if err := h.credentials.Update(ctx, id, req.Fields); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "credential not found",
			})
		}
		h.components.Logger.Error("failed to update credential", "credential_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to update credential",
		})
	}

	h.components.Logger.Info("credential updated", "credential_id", id)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":      id,
		"updated": true,
	})
}

// DeleteCredential removes a credential
// DELETE /api/v1/credentials/:id
func (h *CredentialHandler) DeleteCredential(c echo.Context) error {
	if h.credentials == nil {
		return h.storeDisabled(c)
	}
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "credential id must be an integer",
		})
	}

	if err := h.credentials.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "credential not found",
			})
		}
		h.components.Logger.Error("failed to delete credential", "credential_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to delete credential",
		})
	}

	h.components.Logger.Info("credential deleted", "credential_id", id)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":      id,
		"deleted": true,
	})
}
