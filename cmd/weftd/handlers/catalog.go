package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/weftworks/weft/cmd/weftd/container"
	"github.com/weftworks/weft/common/sdk"
)

// CatalogHandler serves the node type catalog a canvas builds palettes from
type CatalogHandler struct {
	registry *sdk.Registry
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(c *container.Container) *CatalogHandler {
	return &CatalogHandler{registry: c.Registry}
}

// ListNodeTypes lists every registered node type with its ports, config
// schema and capabilities
// GET /api/v1/node-types
func (h *CatalogHandler) ListNodeTypes(c echo.Context) error {
	types := h.registry.Types()
	out := make([]map[string]interface{}, 0, len(types))
	for _, t := range types {
		node, err := h.registry.Create(t)
		if err != nil {
			continue
		}
		caps, _ := h.registry.Capabilities(t)
		out = append(out, map[string]interface{}{
			"type":              t,
			"input_ports":       node.InputPorts(),
			"output_ports":      node.OutputPorts(),
			"config_schema":     node.ConfigSchema(),
			"pools":             caps.RequiredPools(),
			"trigger":           caps.Trigger,
			"human_interaction": caps.HumanInteraction,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"node_types": out,
		"count":      len(out),
	})
}
