package nodes

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/common/sdk"
)

// fakeGateway scripts chat responses and records every request.
type fakeGateway struct {
	requests  []sdk.ChatRequest
	responses []*sdk.ChatResponse
	err       error
}

func (g *fakeGateway) Chat(_ context.Context, req sdk.ChatRequest) (*sdk.ChatResponse, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.responses) == 0 {
		return &sdk.ChatResponse{Content: "done", FinishReason: "stop"}, nil
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

func TestLLMChatRequiresGatewayAndModel(t *testing.T) {
	n := &llmChatNode{}

	_, err := n.Execute(context.Background(), newInput(nil, map[string]any{"model": "gpt-4o"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no LLM gateway")

	in := newInput(nil, map[string]any{"prompt": "hi"})
	in.LLM = &fakeGateway{}
	_, err = n.Execute(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")
}

func TestLLMChatSendsPromptAndMapsResponse(t *testing.T) {
	n := &llmChatNode{}
	gw := &fakeGateway{responses: []*sdk.ChatResponse{{
		Content:      "the summary",
		FinishReason: "stop",
		PromptTokens: 20,
		OutputTokens: 9,
	}}}

	in := newInput(nil, map[string]any{
		"model":         "gpt-4o-mini",
		"prompt":        "summarize the incident",
		"system_prompt": "you are an SRE assistant",
		"temperature":   0.2,
		"max_tokens":    256,
	})
	in.LLM = gw

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.InDelta(t, 0.2, float64(req.Temperature), 0.001)
	assert.Equal(t, 256, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, "summarize the incident", req.Messages[1].Content)

	assert.Equal(t, "the summary", out["output"])
	assert.Equal(t, "gpt-4o-mini", out["model"])
	assert.Equal(t, 20, out["prompt_tokens"])
	assert.Equal(t, 9, out["output_tokens"])
	assert.Equal(t, "stop", out["finish_reason"])
}

func TestLLMChatPromptFallsBackToInputPort(t *testing.T) {
	n := &llmChatNode{}
	gw := &fakeGateway{}

	in := newInput(map[string]any{"input": map[string]any{"alert": "disk full"}}, map[string]any{
		"model": "gpt-4o",
	})
	in.LLM = gw

	_, err := n.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, gw.requests, 1)
	assert.JSONEq(t, `{"alert": "disk full"}`, gw.requests[0].Messages[0].Content)
}

func TestLLMChatRequiresSomePrompt(t *testing.T) {
	n := &llmChatNode{}
	in := newInput(nil, map[string]any{"model": "gpt-4o"})
	in.LLM = &fakeGateway{}

	_, err := n.Execute(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt is required")
}

func TestLLMChatWrapsGatewayErrors(t *testing.T) {
	n := &llmChatNode{}
	in := newInput(nil, map[string]any{"model": "gpt-4o", "prompt": "hi"})
	in.LLM = &fakeGateway{err: fmt.Errorf("rate limited")}

	_, err := n.Execute(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion failed")
	assert.Contains(t, err.Error(), "rate limited")
}
