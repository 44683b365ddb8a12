package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weftworks/weft/common/sdk"
)

// llmChatNode runs a single chat completion through the engine's model
// gateway. It declares the llm pool so concurrent model calls stay under the
// configured ceiling.
type llmChatNode struct{}

func (n *llmChatNode) InputPorts() []sdk.Port {
	return universalPort("input", false)
}

func (n *llmChatNode) OutputPorts() []sdk.Port {
	return []sdk.Port{{Name: "output", Type: sdk.PortTypeText, Required: false}}
}

func (n *llmChatNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"model":         prop("string", "model identifier"),
		"prompt":        prop("string", "user message; defaults to the input port"),
		"system_prompt": prop("string", "optional system message"),
		"temperature":   prop("number", "sampling temperature"),
		"max_tokens":    prop("integer", "completion token cap"),
	}, "model")
}

func (n *llmChatNode) Execute(ctx context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	if in.LLM == nil {
		return nil, fmt.Errorf("no LLM gateway is configured")
	}
	model := stringOr(in.Config, "model", "")
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	prompt := stringOr(in.Config, "prompt", "")
	if prompt == "" {
		prompt = stringifyPort(in.Ports["input"])
	}
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required: set it in config or wire the input port")
	}

	var messages []sdk.ChatMessage
	if sys := stringOr(in.Config, "system_prompt", ""); sys != "" {
		messages = append(messages, sdk.ChatMessage{Role: "system", Content: sys})
	}
	messages = append(messages, sdk.ChatMessage{Role: "user", Content: prompt})

	resp, err := in.LLM.Chat(ctx, sdk.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(floatOr(in.Config, "temperature", 0)),
		MaxTokens:   intOr(in.Config, "max_tokens", 0),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	return map[string]any{
		"output":        resp.Content,
		"model":         model,
		"prompt_tokens": resp.PromptTokens,
		"output_tokens": resp.OutputTokens,
		"finish_reason": resp.FinishReason,
	}, nil
}

// stringifyPort renders a port value as prompt text: strings pass through,
// structured values become JSON.
func stringifyPort(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
