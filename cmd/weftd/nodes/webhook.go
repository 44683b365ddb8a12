package nodes

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/weftworks/weft/common/sdk"
)

// maxWebhookBody caps inbound hook payloads; they become trigger data inside
// execution records.
const maxWebhookBody = 1 << 20

// WebhookRouter is the shared surface between webhook trigger nodes and the
// HTTP server: activating a workflow registers its hook paths here, and the
// server mounts Handler under the hooks route. One path belongs to at most
// one workflow.
type WebhookRouter struct {
	mu     sync.RWMutex
	hooks  map[string]*webhookBinding
	logger Logger
}

type webhookBinding struct {
	workflowID string
	secret     string
	spawn      sdk.SpawnFunc
}

// NewWebhookRouter creates an empty router.
func NewWebhookRouter(logger Logger) *WebhookRouter {
	if logger == nil {
		logger = nopLogger{}
	}
	return &WebhookRouter{hooks: make(map[string]*webhookBinding), logger: logger}
}

func (r *WebhookRouter) register(path string, b *webhookBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, taken := r.hooks[path]; taken {
		return fmt.Errorf("webhook path %q is already registered to workflow %s", path, existing.workflowID)
	}
	r.hooks[path] = b
	return nil
}

func (r *WebhookRouter) unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, path)
}

// Paths returns the registered hook paths, sorted.
func (r *WebhookRouter) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.hooks))
	for p := range r.hooks {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Handler serves inbound hook deliveries. Mount it at POST /hooks/:path.
func (r *WebhookRouter) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		path := normalizeHookPath(c.Param("path"))
		r.mu.RLock()
		b, ok := r.hooks[path]
		r.mu.RUnlock()
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no webhook registered for this path"})
		}
		if b.secret != "" {
			given := c.Request().Header.Get("X-Webhook-Secret")
			if subtle.ConstantTimeCompare([]byte(given), []byte(b.secret)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid webhook secret"})
			}
		}

		var body any
		if raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody)); err == nil && len(raw) > 0 {
			if json.Valid(raw) {
				_ = json.Unmarshal(raw, &body)
			} else {
				body = string(raw)
			}
		}
		query := make(map[string]any)
		for k, vs := range c.QueryParams() {
			if len(vs) > 0 {
				query[k] = vs[0]
			}
		}

		executionID, err := b.spawn(c.Request().Context(), b.workflowID, map[string]any{
			"path":        "/" + path,
			"body":        body,
			"query":       query,
			"received_at": time.Now().UTC().Format(time.RFC3339),
		}, "webhook")
		if err != nil {
			r.logger.Warn("webhook delivery could not start an execution",
				"path", path, "workflow_id", b.workflowID, "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "failed to start execution"})
		}
		return c.JSON(http.StatusAccepted, map[string]string{"execution_id": executionID})
	}
}

func normalizeHookPath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

// webhookTrigger binds one hook path to its workflow while the workflow is
// active. At run time the node just forwards the delivery that spawned the
// execution.
type webhookTrigger struct {
	hooks  *WebhookRouter
	logger Logger
	path   string
}

func (t *webhookTrigger) InputPorts() []sdk.Port { return nil }

func (t *webhookTrigger) OutputPorts() []sdk.Port {
	return universalPort("output", false)
}

func (t *webhookTrigger) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"path":   prop("string", "hook path segment under /hooks"),
		"secret": prop("string", "optional shared secret checked against X-Webhook-Secret"),
	}, "path")
}

func (t *webhookTrigger) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	return map[string]any{"output": in.Ports["input"]}, nil
}

func (t *webhookTrigger) StartMonitoring(_ context.Context, workflowID string, config map[string]any, spawn sdk.SpawnFunc) error {
	if t.hooks == nil {
		return fmt.Errorf("webhook routing is not configured")
	}
	path := normalizeHookPath(stringOr(config, "path", ""))
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if err := t.hooks.register(path, &webhookBinding{
		workflowID: workflowID,
		secret:     stringOr(config, "secret", ""),
		spawn:      spawn,
	}); err != nil {
		return err
	}
	t.path = path
	t.logger.Info("webhook registered", "path", path, "workflow_id", workflowID)
	return nil
}

func (t *webhookTrigger) StopMonitoring(_ context.Context) error {
	if t.hooks != nil && t.path != "" {
		t.hooks.unregister(t.path)
		t.logger.Info("webhook unregistered", "path", t.path)
		t.path = ""
	}
	return nil
}
