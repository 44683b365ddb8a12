package nodes

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/common/sdk"
)

func toolPort(descs ...map[string]any) map[string]any {
	list := make([]any, len(descs))
	for i, d := range descs {
		list[i] = d
	}
	return map[string]any{sdk.PortTools: list}
}

func searchTool() map[string]any {
	return map[string]any{
		"node_id":   "n-search",
		"node_type": "http_request",
		"name":      "search",
		"config":    map[string]any{},
	}
}

func TestAgentAnswersWithoutTools(t *testing.T) {
	n := &agentNode{logger: nopLogger{}}
	gw := &fakeGateway{responses: []*sdk.ChatResponse{{Content: "42", FinishReason: "stop", PromptTokens: 5, OutputTokens: 1}}}

	in := newInput(nil, map[string]any{"model": "gpt-4o", "prompt": "what is the answer"})
	in.LLM = gw

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "42", out["output"])
	assert.Equal(t, 1, out["steps"])
	assert.Equal(t, 0, out["tool_calls"])
	assert.Equal(t, 5, out["prompt_tokens"])
	require.Len(t, gw.requests, 1)
	assert.Empty(t, gw.requests[0].Tools)
}

func TestAgentRunsRequestedToolAndFeedsResultBack(t *testing.T) {
	n := &agentNode{logger: nopLogger{}}
	gw := &fakeGateway{responses: []*sdk.ChatResponse{
		{ToolCalls: []sdk.ToolCall{{ID: "c1", Name: "search", Arguments: `{"q": "weather"}`}}},
		{Content: "it is sunny", FinishReason: "stop"},
	}}

	var ranNode string
	var ranInputs map[string]any
	in := newInput(toolPort(searchTool()), map[string]any{"model": "gpt-4o", "prompt": "check the weather"})
	in.LLM = gw
	in.RunNode = func(_ context.Context, nodeID string, inputs, _ map[string]any) (map[string]any, error) {
		ranNode = nodeID
		ranInputs = inputs
		return map[string]any{"output": "sunny"}, nil
	}

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "n-search", ranNode)
	assert.Equal(t, map[string]any{"q": "weather"}, ranInputs)
	assert.Equal(t, "it is sunny", out["output"])
	assert.Equal(t, 2, out["steps"])
	assert.Equal(t, 1, out["tool_calls"])

	require.Len(t, gw.requests, 2)
	require.Len(t, gw.requests[0].Tools, 1)
	assert.Equal(t, "search", gw.requests[0].Tools[0].Name)

	second := gw.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Contains(t, last.Content, "sunny")
}

func TestAgentFeedsToolFailuresToTheModel(t *testing.T) {
	n := &agentNode{logger: nopLogger{}}
	gw := &fakeGateway{responses: []*sdk.ChatResponse{
		{ToolCalls: []sdk.ToolCall{{ID: "c1", Name: "search", Arguments: `{}`}}},
		{Content: "could not check", FinishReason: "stop"},
	}}

	in := newInput(toolPort(searchTool()), map[string]any{"model": "gpt-4o", "prompt": "check"})
	in.LLM = gw
	in.RunNode = func(context.Context, string, map[string]any, map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("upstream down")
	}

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "could not check", out["output"])

	second := gw.requests[1].Messages
	assert.Contains(t, second[len(second)-1].Content, "upstream down")
}

func TestAgentReportsUnknownToolsAndBadArguments(t *testing.T) {
	n := &agentNode{logger: nopLogger{}}
	gw := &fakeGateway{responses: []*sdk.ChatResponse{
		{ToolCalls: []sdk.ToolCall{
			{ID: "c1", Name: "nonexistent", Arguments: `{}`},
			{ID: "c2", Name: "search", Arguments: `{not json`},
		}},
		{Content: "giving up", FinishReason: "stop"},
	}}

	in := newInput(toolPort(searchTool()), map[string]any{"model": "gpt-4o", "prompt": "go"})
	in.LLM = gw
	in.RunNode = func(context.Context, string, map[string]any, map[string]any) (map[string]any, error) {
		t.Fatal("no tool should have run")
		return nil, nil
	}

	_, err := n.Execute(context.Background(), in)
	require.NoError(t, err)

	second := gw.requests[1].Messages
	assert.Contains(t, second[len(second)-2].Content, "unknown tool")
	assert.Contains(t, second[len(second)-1].Content, "not valid JSON")
}

func TestAgentStopsAtStepBudget(t *testing.T) {
	n := &agentNode{logger: nopLogger{}}
	gw := &fakeGateway{responses: []*sdk.ChatResponse{
		{ToolCalls: []sdk.ToolCall{{ID: "c1", Name: "search", Arguments: `{}`}}},
		{ToolCalls: []sdk.ToolCall{{ID: "c2", Name: "search", Arguments: `{}`}}},
	}}

	in := newInput(toolPort(searchTool()), map[string]any{
		"model": "gpt-4o", "prompt": "loop forever", "max_steps": 2,
	})
	in.LLM = gw
	in.RunNode = func(context.Context, string, map[string]any, map[string]any) (map[string]any, error) {
		return map[string]any{"output": "partial"}, nil
	}

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out["error"], "did not produce a final answer")
	assert.Equal(t, 2, out["steps"])
	assert.Equal(t, 2, out["tool_calls"])
}

func TestAgentRequiresRunnerWhenToolsAreWired(t *testing.T) {
	n := &agentNode{logger: nopLogger{}}
	in := newInput(toolPort(searchTool()), map[string]any{"model": "gpt-4o", "prompt": "go"})
	in.LLM = &fakeGateway{}

	_, err := n.Execute(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool execution is not available")
}
