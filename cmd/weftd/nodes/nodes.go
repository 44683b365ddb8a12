// Package nodes is the builtin catalog: the node types weftd registers at
// startup. A node type declares its ports, config schema, and capability
// set; execution policy (input assembly, retries, soft errors, credential
// injection) lives in the scheduler, so the implementations here only turn
// resolved config plus assembled inputs into outputs.
package nodes

import (
	"encoding/json"
	"fmt"

	"github.com/weftworks/weft/cmd/weftd/condition"
	"github.com/weftworks/weft/common/clients"
	"github.com/weftworks/weft/common/sdk"
)

// Logger is the minimal logging interface catalog nodes need.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// Deps carries the process-wide collaborators builtin nodes share.
type Deps struct {
	Evaluator *condition.Evaluator // compiled-expression cache for condition/switch
	HTTP      *clients.HTTPClient  // outbound requests, SSRF-guarded by the caller
	Hooks     *WebhookRouter       // webhook trigger registration surface
	ExportDir string               // sandbox root for file_export
	Logger    Logger
}

// Register installs every builtin node type.
func Register(registry *sdk.Registry, deps Deps) error {
	log := deps.Logger
	if log == nil {
		log = nopLogger{}
	}

	regs := []sdk.Registration{
		{Type: "set_value", Factory: func() sdk.Node { return &setValueNode{} }},
		{Type: "merge", Factory: func() sdk.Node { return &mergeNode{} }},
		{Type: "delay", Factory: func() sdk.Node { return &delayNode{} }},
		{Type: "template", Factory: func() sdk.Node { return &templateNode{} }},
		{Type: "extract", Factory: func() sdk.Node { return &extractNode{} }},
		{Type: "script", Factory: func() sdk.Node { return &scriptNode{} }},
		{Type: "condition", Factory: func() sdk.Node { return &conditionNode{eval: deps.Evaluator} }},
		{Type: "switch", Factory: func() sdk.Node { return &switchNode{eval: deps.Evaluator} }},
		{Type: "loop_counter", Factory: func() sdk.Node { return &loopCounterNode{} }},
		{Type: "http_request", Factory: func() sdk.Node { return &httpRequestNode{client: deps.HTTP} }},
		{Type: "email_send", Factory: func() sdk.Node { return &emailSendNode{} }},
		{
			Type:         "llm_chat",
			Factory:      func() sdk.Node { return &llmChatNode{} },
			Capabilities: sdk.Capabilities{Pools: []string{sdk.PoolLLM}},
		},
		{
			Type:         "agent",
			Factory:      func() sdk.Node { return &agentNode{logger: log} },
			Capabilities: sdk.Capabilities{Pools: []string{sdk.PoolLLM}},
		},
		{
			Type:         "human_approval",
			Factory:      func() sdk.Node { return &humanApprovalNode{} },
			Capabilities: sdk.Capabilities{HumanInteraction: true},
		},
		{Type: "file_export", Factory: func() sdk.Node { return &fileExportNode{dir: deps.ExportDir} }},
		{
			Type:         "webhook",
			Factory:      func() sdk.Node { return &webhookTrigger{hooks: deps.Hooks, logger: log} },
			Capabilities: sdk.Capabilities{Trigger: true},
		},
		{
			Type:         "schedule",
			Factory:      func() sdk.Node { return &scheduleTrigger{logger: log} },
			Capabilities: sdk.Capabilities{Trigger: true},
		},
		{
			Type:         "file_watch",
			Factory:      func() sdk.Node { return &fileWatchTrigger{logger: log} },
			Capabilities: sdk.Capabilities{Trigger: true},
		},
	}

	for _, reg := range regs {
		if err := registry.Register(reg); err != nil {
			return fmt.Errorf("failed to register node type %s: %w", reg.Type, err)
		}
	}
	return nil
}

// objectSchema builds the conventional config schema shape.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// universalPort is the common single-port shape most nodes use.
func universalPort(name string, required bool) []sdk.Port {
	return []sdk.Port{{Name: name, Type: sdk.PortTypeUniversal, Required: required}}
}

func stringOr(cfg map[string]any, key, fallback string) string {
	if s, ok := cfg[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func boolOr(cfg map[string]any, key string, fallback bool) bool {
	if b, ok := cfg[key].(bool); ok {
		return b
	}
	return fallback
}

func intOr(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

func floatOr(cfg map[string]any, key string, fallback float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

func mapOr(cfg map[string]any, key string) map[string]any {
	m, _ := cfg[key].(map[string]any)
	return m
}

func listOr(cfg map[string]any, key string) []any {
	l, _ := cfg[key].([]any)
	return l
}

// coalesce normalizes a port value into the list of contributing values:
// fan-in edges assemble a list, a single edge a scalar, no edge nil.
func coalesce(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}
