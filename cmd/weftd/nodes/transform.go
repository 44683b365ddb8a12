package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/weftworks/weft/cmd/weftd/resolver"
	"github.com/weftworks/weft/common/sdk"
)

// setValueNode emits configured values as outputs. Config passes through the
// resolver before execution, so values routinely carry {{dotted.path}}
// references into variables and shared node outputs.
type setValueNode struct{}

func (n *setValueNode) InputPorts() []sdk.Port  { return universalPort("input", false) }
func (n *setValueNode) OutputPorts() []sdk.Port { return universalPort("output", false) }

func (n *setValueNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"values": prop("object", "map of output name to value; each entry becomes an output"),
		"value":  prop("any", "single value emitted as the output port"),
	})
}

func (n *setValueNode) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	if values := mapOr(in.Config, "values"); len(values) > 0 {
		out := make(map[string]any, len(values))
		for k, v := range values {
			out[k] = v
		}
		return out, nil
	}
	if v, ok := in.Config["value"]; ok {
		return map[string]any{"output": v}, nil
	}
	// No config: pass the input through unchanged.
	return map[string]any{"output": in.Ports["input"]}, nil
}

// mergeNode combines object inputs into a single map, later sources winning.
type mergeNode struct{}

func (n *mergeNode) InputPorts() []sdk.Port  { return universalPort("input", true) }
func (n *mergeNode) OutputPorts() []sdk.Port { return universalPort("output", false) }

func (n *mergeNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"deep": prop("boolean", "recursively merge nested objects instead of replacing them"),
	})
}

func (n *mergeNode) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	deep := boolOr(in.Config, "deep", false)
	merged := make(map[string]any)
	skipped := 0
	for _, item := range coalesce(in.Ports["input"]) {
		m, ok := item.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		if deep {
			deepMerge(merged, m)
		} else {
			for k, v := range m {
				merged[k] = v
			}
		}
	}
	out := map[string]any{"output": merged}
	if skipped > 0 {
		out["skipped"] = skipped
	}
	return out, nil
}

// deepMerge folds src into dst, recursing where both sides hold objects.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				deepMerge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// templateNode renders text with {{dotted.path}} placeholders. The scope is
// the variables snapshot plus the node's own input under "input"/"inputs",
// so templates can reference both shared state and the direct upstream value.
type templateNode struct{}

func (n *templateNode) InputPorts() []sdk.Port { return universalPort("input", false) }
func (n *templateNode) OutputPorts() []sdk.Port {
	return []sdk.Port{{Name: "output", Type: sdk.PortTypeText}}
}

func (n *templateNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"template": prop("string", "text with {{dotted.path}} placeholders"),
	}, "template")
}

func (n *templateNode) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	tmpl := stringOr(in.Config, "template", "")
	if tmpl == "" {
		return nil, fmt.Errorf("template is required")
	}

	scope := make(map[string]any, len(in.Variables)+2)
	for k, v := range in.Variables {
		scope[k] = v
	}
	scope["input"] = in.Ports["input"]
	scope["inputs"] = in.Ports

	rendered, err := resolver.Resolve(map[string]any{"text": tmpl}, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	return map[string]any{"output": rendered["text"]}, nil
}

// extractNode pulls values out of upstream JSON with gjson paths. String
// inputs that already hold JSON are queried as-is; everything else is
// marshalled first.
type extractNode struct{}

func (n *extractNode) InputPorts() []sdk.Port  { return universalPort("input", true) }
func (n *extractNode) OutputPorts() []sdk.Port { return universalPort("output", false) }

func (n *extractNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"path":  prop("string", "gjson path resolved to the output port"),
		"paths": prop("object", "map of output name to gjson path; overrides path"),
	})
}

func (n *extractNode) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	raw, err := jsonDocument(in.Ports["input"])
	if err != nil {
		return nil, err
	}

	if paths := mapOr(in.Config, "paths"); len(paths) > 0 {
		out := make(map[string]any, len(paths))
		var missing []string
		for name, p := range paths {
			path, ok := p.(string)
			if !ok || path == "" {
				return nil, fmt.Errorf("paths entry %q is not a path string", name)
			}
			res := gjson.GetBytes(raw, path)
			if res.Exists() {
				out[name] = res.Value()
			} else {
				out[name] = nil
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			out["missing"] = missing
		}
		return out, nil
	}

	path := stringOr(in.Config, "path", "")
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	res := gjson.GetBytes(raw, path)
	return map[string]any{"output": res.Value(), "found": res.Exists()}, nil
}

// jsonDocument turns the input into queryable JSON bytes.
func jsonDocument(v any) ([]byte, error) {
	if s, ok := v.(string); ok && gjson.Valid(s) {
		return []byte(s), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("input is not JSON-encodable: %w", err)
	}
	return raw, nil
}
