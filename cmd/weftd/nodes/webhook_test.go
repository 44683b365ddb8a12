package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hookRequest(t *testing.T, router *WebhookRouter, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/hooks/"+path+"?env=staging", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/hooks/:path")
	c.SetParamNames("path")
	c.SetParamValues(path)
	require.NoError(t, router.Handler()(c))
	return rec
}

func TestWebhookRouterRejectsDuplicatePaths(t *testing.T) {
	router := NewWebhookRouter(nil)
	require.NoError(t, router.register("deploy", &webhookBinding{workflowID: "wf-a"}))

	err := router.register("deploy", &webhookBinding{workflowID: "wf-b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `webhook path "deploy" is already registered to workflow wf-a`)

	router.unregister("deploy")
	require.NoError(t, router.register("deploy", &webhookBinding{workflowID: "wf-b"}))
	assert.Equal(t, []string{"deploy"}, router.Paths())
}

func TestWebhookDeliverySpawnsExecution(t *testing.T) {
	router := NewWebhookRouter(nil)
	var gotWorkflow, gotSource string
	var gotData map[string]any
	require.NoError(t, router.register("deploy", &webhookBinding{
		workflowID: "wf-deploy",
		spawn: func(_ context.Context, wf string, td map[string]any, source string) (string, error) {
			gotWorkflow, gotData, gotSource = wf, td, source
			return "exec-123", nil
		},
	}))

	rec := hookRequest(t, router, "deploy", `{"ref": "main"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "exec-123", resp["execution_id"])

	assert.Equal(t, "wf-deploy", gotWorkflow)
	assert.Equal(t, "webhook", gotSource)
	assert.Equal(t, "/deploy", gotData["path"])
	assert.Equal(t, map[string]any{"ref": "main"}, gotData["body"])
	assert.Equal(t, map[string]any{"env": "staging"}, gotData["query"])
}

func TestWebhookUnknownPathIs404(t *testing.T) {
	router := NewWebhookRouter(nil)
	rec := hookRequest(t, router, "ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookSecretIsEnforced(t *testing.T) {
	router := NewWebhookRouter(nil)
	require.NoError(t, router.register("deploy", &webhookBinding{
		workflowID: "wf-deploy",
		secret:     "s3cret",
		spawn: func(context.Context, string, map[string]any, string) (string, error) {
			return "exec-1", nil
		},
	}))

	rec := hookRequest(t, router, "deploy", "{}", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = hookRequest(t, router, "deploy", "{}", map[string]string{"X-Webhook-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = hookRequest(t, router, "deploy", "{}", map[string]string{"X-Webhook-Secret": "s3cret"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWebhookSpawnFailureIs503(t *testing.T) {
	router := NewWebhookRouter(nil)
	require.NoError(t, router.register("deploy", &webhookBinding{
		workflowID: "wf-deploy",
		spawn: func(context.Context, string, map[string]any, string) (string, error) {
			return "", fmt.Errorf("draining")
		},
	}))

	rec := hookRequest(t, router, "deploy", "{}", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookTriggerRegistersWhileActive(t *testing.T) {
	router := NewWebhookRouter(nil)
	trig := &webhookTrigger{hooks: router, logger: nopLogger{}}

	spawn := func(context.Context, string, map[string]any, string) (string, error) { return "exec-1", nil }
	err := trig.StartMonitoring(context.Background(), "wf-a", map[string]any{"path": "/deploy/"}, spawn)
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy"}, router.Paths())

	other := &webhookTrigger{hooks: router, logger: nopLogger{}}
	err = other.StartMonitoring(context.Background(), "wf-b", map[string]any{"path": "deploy"}, spawn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	require.NoError(t, trig.StopMonitoring(context.Background()))
	assert.Empty(t, router.Paths())
	// Stop twice is a no-op.
	require.NoError(t, trig.StopMonitoring(context.Background()))
}

func TestWebhookTriggerRequiresPath(t *testing.T) {
	trig := &webhookTrigger{hooks: NewWebhookRouter(nil), logger: nopLogger{}}
	err := trig.StartMonitoring(context.Background(), "wf-a", map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}
