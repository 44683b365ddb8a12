package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/cmd/weftd/condition"
	"github.com/weftworks/weft/common/clients"
	"github.com/weftworks/weft/common/sdk"
)

func newInput(ports, config map[string]any) *sdk.NodeExecutionInput {
	if ports == nil {
		ports = map[string]any{}
	}
	if config == nil {
		config = map[string]any{}
	}
	return &sdk.NodeExecutionInput{
		Ports:       ports,
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		NodeID:      "n1",
		NodeName:    "node under test",
		Variables:   map[string]any{},
		Config:      config,
	}
}

func mustEvaluator(t *testing.T) *condition.Evaluator {
	t.Helper()
	eval, err := condition.NewEvaluator()
	require.NoError(t, err)
	return eval
}

func TestRegisterInstallsCatalog(t *testing.T) {
	registry := sdk.NewRegistry()
	err := Register(registry, Deps{
		Evaluator: mustEvaluator(t),
		HTTP:      clients.NewHTTPClient(clients.HTTPClientOpts{}),
		Hooks:     NewWebhookRouter(nil),
		ExportDir: t.TempDir(),
	})
	require.NoError(t, err)

	types := registry.Types()
	assert.Len(t, types, 18)
	assert.Contains(t, types, "http_request")
	assert.Contains(t, types, "agent")
	assert.Contains(t, types, "human_approval")

	caps, ok := registry.Capabilities("webhook")
	require.True(t, ok)
	assert.True(t, caps.Trigger)

	caps, ok = registry.Capabilities("schedule")
	require.True(t, ok)
	assert.True(t, caps.Trigger)

	caps, ok = registry.Capabilities("file_watch")
	require.True(t, ok)
	assert.True(t, caps.Trigger)

	caps, ok = registry.Capabilities("human_approval")
	require.True(t, ok)
	assert.True(t, caps.HumanInteraction)

	caps, ok = registry.Capabilities("llm_chat")
	require.True(t, ok)
	assert.Equal(t, []string{sdk.PoolLLM}, caps.Pools)

	caps, ok = registry.Capabilities("agent")
	require.True(t, ok)
	assert.Equal(t, []string{sdk.PoolLLM}, caps.Pools)
}

func TestCoalesce(t *testing.T) {
	assert.Nil(t, coalesce(nil))
	assert.Equal(t, []any{"a"}, coalesce("a"))
	assert.Equal(t, []any{"a", "b"}, coalesce([]any{"a", "b"}))
}

func TestIntOrNumericForms(t *testing.T) {
	cfg := map[string]any{
		"a": 3,
		"b": int64(4),
		"c": float64(5),
	}
	assert.Equal(t, 3, intOr(cfg, "a", 0))
	assert.Equal(t, 4, intOr(cfg, "b", 0))
	assert.Equal(t, 5, intOr(cfg, "c", 0))
	assert.Equal(t, 9, intOr(cfg, "missing", 9))
}
