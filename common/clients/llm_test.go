package clients

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/common/sdk"
)

type fakeChatAPI struct {
	requests []openai.ChatCompletionRequest
	resp     openai.ChatCompletionResponse
	err      error
}

func (f *fakeChatAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return f.resp, nil
}

func stubResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 5},
	}
}

func newTestLLMClient(t *testing.T, fake *fakeChatAPI, defaultModel string) *LLMClient {
	t.Helper()
	c, err := NewLLMClient(LLMClientOpts{Chat: fake, DefaultModel: defaultModel})
	require.NoError(t, err)
	return c
}

func TestNewLLMClientRequiresKeyOrInjectedAPI(t *testing.T) {
	_, err := NewLLMClient(LLMClientOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")

	_, err = NewLLMClient(LLMClientOpts{Chat: &fakeChatAPI{}})
	assert.NoError(t, err)

	_, err = NewLLMClient(LLMClientOpts{APIKey: "sk-test"})
	assert.NoError(t, err)
}

func TestChatEncodesRequest(t *testing.T) {
	fake := &fakeChatAPI{resp: stubResponse("done")}
	c := newTestLLMClient(t, fake, "")

	_, err := c.Chat(context.Background(), sdk.ChatRequest{
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxTokens:   256,
		Messages: []sdk.ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "weather in oslo?"},
			{Role: "assistant", ToolCalls: []sdk.ToolCall{
				{ID: "c1", Name: "lookup", Arguments: `{"city":"oslo"}`},
			}},
			{Role: "tool", ToolCallID: "c1", Content: `{"temp":12}`},
		},
		Tools: []sdk.ToolSpec{{
			Name:        "lookup",
			Description: "Look up current weather",
			Parameters:  map[string]any{"type": "object", "additionalProperties": true},
		}},
	})
	require.NoError(t, err)
	require.Len(t, fake.requests, 1)

	got := fake.requests[0]
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 0.001)
	assert.Equal(t, 256, got.MaxTokens)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "weather in oslo?", got.Messages[1].Content)

	require.Len(t, got.Messages[2].ToolCalls, 1)
	call := got.Messages[2].ToolCalls[0]
	assert.Equal(t, "c1", call.ID)
	assert.Equal(t, openai.ToolTypeFunction, call.Type)
	assert.Equal(t, "lookup", call.Function.Name)
	assert.JSONEq(t, `{"city":"oslo"}`, call.Function.Arguments)

	assert.Equal(t, "c1", got.Messages[3].ToolCallID)

	require.Len(t, got.Tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, got.Tools[0].Type)
	assert.Equal(t, "lookup", got.Tools[0].Function.Name)
	assert.Equal(t, "Look up current weather", got.Tools[0].Function.Description)
	params, ok := got.Tools[0].Function.Parameters.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"object","additionalProperties":true}`, string(params))
}

func TestChatDecodesResponse(t *testing.T) {
	fake := &fakeChatAPI{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "",
				ToolCalls: []openai.ToolCall{{
					ID:       "c7",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "search", Arguments: `{"q":"go"}`},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
		Usage: openai.Usage{PromptTokens: 40, CompletionTokens: 9},
	}}
	c := newTestLLMClient(t, fake, "gpt-4o-mini")

	resp, err := c.Chat(context.Background(), sdk.ChatRequest{
		Messages: []sdk.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, string(openai.FinishReasonToolCalls), resp.FinishReason)
	assert.Equal(t, 40, resp.PromptTokens)
	assert.Equal(t, 9, resp.OutputTokens)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "c7", resp.ToolCalls[0].ID)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.Equal(t, `{"q":"go"}`, resp.ToolCalls[0].Arguments)
}

func TestChatFallsBackToDefaultModel(t *testing.T) {
	fake := &fakeChatAPI{resp: stubResponse("ok")}
	c := newTestLLMClient(t, fake, "gpt-4o-mini")

	_, err := c.Chat(context.Background(), sdk.ChatRequest{
		Messages: []sdk.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", fake.requests[0].Model)
}

func TestChatValidation(t *testing.T) {
	c := newTestLLMClient(t, &fakeChatAPI{resp: stubResponse("ok")}, "")

	_, err := c.Chat(context.Background(), sdk.ChatRequest{
		Messages: []sdk.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default model")

	c = newTestLLMClient(t, &fakeChatAPI{resp: stubResponse("ok")}, "gpt-4o-mini")
	_, err = c.Chat(context.Background(), sdk.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messages are required")
}

func TestChatWrapsUpstreamErrors(t *testing.T) {
	fake := &fakeChatAPI{err: errors.New("rate limited")}
	c := newTestLLMClient(t, fake, "gpt-4o-mini")

	_, err := c.Chat(context.Background(), sdk.ChatRequest{
		Messages: []sdk.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion request failed")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestChatRejectsEmptyChoiceList(t *testing.T) {
	fake := &fakeChatAPI{resp: openai.ChatCompletionResponse{}}
	c := newTestLLMClient(t, fake, "gpt-4o-mini")

	_, err := c.Chat(context.Background(), sdk.ChatRequest{
		Messages: []sdk.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
