package nodes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/weftworks/weft/cmd/weftd/condition"
	"github.com/weftworks/weft/common/sdk"
)

// delayNode holds its input for a configured duration.
type delayNode struct{}

func (n *delayNode) InputPorts() []sdk.Port  { return universalPort("input", false) }
func (n *delayNode) OutputPorts() []sdk.Port { return universalPort("output", false) }

func (n *delayNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"duration": prop("string", `how long to wait: "30s", "5m", "1d2h", or a bare number of seconds`),
	}, "duration")
}

func (n *delayNode) Execute(ctx context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	d, err := parseDuration(in.Config["duration"])
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d):
	}
	return map[string]any{"output": in.Ports["input"], "delayed_ms": d.Milliseconds()}, nil
}

// parseDuration accepts go-style durations extended with day/week units, or
// a bare number of seconds.
func parseDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case string:
		if x == "" {
			return 0, fmt.Errorf("duration is required")
		}
		d, err := str2duration.ParseDuration(x)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", x, err)
		}
		return d, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case int:
		return time.Duration(x) * time.Second, nil
	case int64:
		return time.Duration(x) * time.Second, nil
	}
	return 0, fmt.Errorf("duration is required")
}

// conditionNode evaluates one expression and routes the true/false branch.
// Outgoing connections carry "branch" metadata (or port-derived labels); the
// router prunes whichever label the outputs block.
type conditionNode struct {
	eval *condition.Evaluator
}

func (n *conditionNode) InputPorts() []sdk.Port { return universalPort("input", false) }

func (n *conditionNode) OutputPorts() []sdk.Port {
	return []sdk.Port{
		{Name: "true", Type: sdk.PortTypeUniversal},
		{Name: "false", Type: sdk.PortTypeUniversal},
	}
}

func (n *conditionNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"expression": prop("string", "CEL expression over input and vars producing a boolean"),
	}, "expression")
}

func (n *conditionNode) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	expr := stringOr(in.Config, "expression", "")
	if expr == "" {
		return nil, fmt.Errorf("expression is required")
	}
	result, err := n.eval.EvaluateBool(expr, exprInput(in.Ports["input"]), in.Variables)
	if err != nil {
		return nil, fmt.Errorf("condition failed: %w", err)
	}

	active, blocked := "true", "false"
	if !result {
		active, blocked = "false", "true"
	}
	return map[string]any{
		"output":          result,
		"result":          result,
		"decision_result": result,
		"active_path":     active,
		"blocked_outputs": []string{blocked},
	}, nil
}

// switchNode picks the first matching rule's path label. With no match the
// default path wins; without a default every rule path is blocked. Edges
// leaving a switch carry their path label in connection "branch" metadata.
type switchNode struct {
	eval *condition.Evaluator
}

func (n *switchNode) InputPorts() []sdk.Port  { return universalPort("input", false) }
func (n *switchNode) OutputPorts() []sdk.Port { return universalPort("output", false) }

func (n *switchNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"rules":        prop("array", `ordered rules: [{"when": CEL, "path": label}]`),
		"default_path": prop("string", "label routed when no rule matches"),
	}, "rules")
}

func (n *switchNode) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	rules := listOr(in.Config, "rules")
	if len(rules) == 0 {
		return nil, fmt.Errorf("rules are required")
	}
	input := exprInput(in.Ports["input"])

	var labels []string
	seen := make(map[string]bool)
	for i, raw := range rules {
		rule, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule %d is not an object", i)
		}
		when := stringOr(rule, "when", "")
		path := stringOr(rule, "path", "")
		if when == "" || path == "" {
			return nil, fmt.Errorf("rule %d needs when and path", i)
		}
		if !seen[path] {
			seen[path] = true
			labels = append(labels, path)
		}

		matched, err := n.eval.EvaluateBool(when, input, in.Variables)
		if err != nil {
			return nil, fmt.Errorf("rule %d failed: %w", i, err)
		}
		if matched {
			return map[string]any{
				"output":          path,
				"decision_result": true,
				"active_path":     path,
				"matched_rule":    i,
			}, nil
		}
	}

	if def := stringOr(in.Config, "default_path", ""); def != "" {
		return map[string]any{
			"output":          def,
			"decision_result": true,
			"active_path":     def,
			"matched_rule":    -1,
		}, nil
	}

	sort.Strings(labels)
	return map[string]any{
		"output":          nil,
		"decision_result": false,
		"blocked_outputs": labels,
		"matched_rule":    -1,
	}, nil
}

// exprInput shapes the input port value for expression evaluation: objects
// bind directly so "$.field" (normalized to input.field) reaches upstream
// output fields, scalars bind under "value".
func exprInput(v any) map[string]any {
	switch t := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return t
	default:
		return map[string]any{"value": t}
	}
}

// loopCounterNode counts iterations of a loop subset and drops the
// continue_loop signal once the cap is reached. The scheduler caches one
// instance per execution, so the count survives loop resets; the mutex
// covers re-entrant use when the node is also wired as a tool.
type loopCounterNode struct {
	mu    sync.Mutex
	count int
}

func (n *loopCounterNode) InputPorts() []sdk.Port  { return universalPort("input", false) }
func (n *loopCounterNode) OutputPorts() []sdk.Port { return universalPort("output", false) }

func (n *loopCounterNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"max_iterations": prop("integer", "iterations before continue_loop turns false (default 10)"),
	})
}

func (n *loopCounterNode) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	max := intOr(in.Config, "max_iterations", 10)
	if max < 1 {
		return nil, fmt.Errorf("max_iterations must be at least 1")
	}

	n.mu.Lock()
	n.count++
	count := n.count
	n.mu.Unlock()

	return map[string]any{
		"continue_loop": count < max,
		"iteration":     count,
		"output":        count,
	}, nil
}
