package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weftworks/weft/common/sdk"
)

// agentNode drives a tool-calling loop: it advertises the nodes wired to its
// tools port as callable tools, lets the model request invocations, runs them
// through the engine callback, and feeds results back until the model answers
// or the step budget runs out. Exhausting the budget is reported as a soft
// error so downstream error handling can react to partial progress.
type agentNode struct {
	logger Logger
}

func (n *agentNode) InputPorts() []sdk.Port {
	return []sdk.Port{
		{Name: "input", Type: sdk.PortTypeUniversal, Required: false},
		{Name: sdk.PortTools, Type: sdk.PortTypeUniversal, Required: false},
	}
}

func (n *agentNode) OutputPorts() []sdk.Port {
	return []sdk.Port{{Name: "output", Type: sdk.PortTypeText, Required: false}}
}

func (n *agentNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"model":         prop("string", "model identifier"),
		"prompt":        prop("string", "task for the agent; defaults to the input port"),
		"system_prompt": prop("string", "optional system message"),
		"temperature":   prop("number", "sampling temperature"),
		"max_tokens":    prop("integer", "completion token cap per step"),
		"max_steps":     prop("integer", "model round limit, default 5"),
	}, "model")
}

func (n *agentNode) Execute(ctx context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	if in.LLM == nil {
		return nil, fmt.Errorf("no LLM gateway is configured")
	}
	model := stringOr(in.Config, "model", "")
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	maxSteps := intOr(in.Config, "max_steps", 5)
	if maxSteps < 1 {
		return nil, fmt.Errorf("max_steps must be at least 1")
	}

	prompt := stringOr(in.Config, "prompt", "")
	if prompt == "" {
		prompt = stringifyPort(in.Ports["input"])
	}
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required: set it in config or wire the input port")
	}

	specs, byName := n.toolSpecs(in.Ports[sdk.PortTools])
	if len(specs) > 0 && in.RunNode == nil {
		return nil, fmt.Errorf("tools are wired but tool execution is not available")
	}

	var messages []sdk.ChatMessage
	if sys := stringOr(in.Config, "system_prompt", ""); sys != "" {
		messages = append(messages, sdk.ChatMessage{Role: "system", Content: sys})
	}
	messages = append(messages, sdk.ChatMessage{Role: "user", Content: prompt})

	var promptTokens, outputTokens, toolCalls int
	for step := 1; step <= maxSteps; step++ {
		resp, err := in.LLM.Chat(ctx, sdk.ChatRequest{
			Model:       model,
			Messages:    messages,
			Temperature: float32(floatOr(in.Config, "temperature", 0)),
			MaxTokens:   intOr(in.Config, "max_tokens", 0),
			Tools:       specs,
		})
		if err != nil {
			return nil, fmt.Errorf("agent step %d failed: %w", step, err)
		}
		promptTokens += resp.PromptTokens
		outputTokens += resp.OutputTokens

		if len(resp.ToolCalls) == 0 {
			return map[string]any{
				"output":        resp.Content,
				"steps":         step,
				"tool_calls":    toolCalls,
				"prompt_tokens": promptTokens,
				"output_tokens": outputTokens,
			}, nil
		}

		messages = append(messages, sdk.ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			toolCalls++
			messages = append(messages, sdk.ChatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    n.invokeTool(ctx, in, byName, call),
			})
		}
	}

	return map[string]any{
		"error":         fmt.Sprintf("agent did not produce a final answer within %d steps", maxSteps),
		"steps":         maxSteps,
		"tool_calls":    toolCalls,
		"prompt_tokens": promptTokens,
		"output_tokens": outputTokens,
	}, nil
}

// invokeTool runs one model-requested call and renders the result for the
// conversation. Failures go back to the model as tool output rather than
// aborting the loop; the model may retry or route around a broken tool.
func (n *agentNode) invokeTool(ctx context.Context, in *sdk.NodeExecutionInput, byName map[string]string, call sdk.ToolCall) string {
	nodeID, ok := byName[call.Name]
	if !ok {
		return fmt.Sprintf(`{"error": "unknown tool %s"}`, call.Name)
	}

	args := make(map[string]any)
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf(`{"error": "tool arguments are not valid JSON: %s"}`, err)
		}
	}

	n.logger.Debug("agent invoking tool", "node_id", nodeID, "tool", call.Name)
	outputs, err := in.RunNode(ctx, nodeID, args, nil)
	if err != nil {
		n.logger.Warn("tool invocation failed", "node_id", nodeID, "tool", call.Name, "error", err)
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}

	rendered, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Sprintf(`{"error": "tool result is not JSON-encodable: %s"}`, err)
	}
	return string(rendered)
}

// toolSpecs turns the descriptors on the tools port into model tool
// declarations plus a name-to-node index for dispatch. Tool inputs are left
// as an open object: the model supplies whatever the target node's input
// ports accept.
func (n *agentNode) toolSpecs(port any) ([]sdk.ToolSpec, map[string]string) {
	descriptors, _ := port.([]any)
	if len(descriptors) == 0 {
		return nil, nil
	}

	specs := make([]sdk.ToolSpec, 0, len(descriptors))
	byName := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		desc, ok := d.(map[string]any)
		if !ok {
			continue
		}
		nodeID, _ := desc["node_id"].(string)
		if nodeID == "" {
			continue
		}
		name, _ := desc["name"].(string)
		if name == "" {
			name = nodeID
		}
		nodeType, _ := desc["node_type"].(string)

		byName[name] = nodeID
		specs = append(specs, sdk.ToolSpec{
			Name:        name,
			Description: fmt.Sprintf("Run the %s workflow node %q. Arguments become its input ports.", nodeType, name),
			Parameters: map[string]any{
				"type":                 "object",
				"additionalProperties": true,
			},
		})
	}
	return specs, byName
}
