package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/weftworks/weft/common/sdk"
)

// ChatAPI is the subset of the go-openai client the gateway uses. Tests
// substitute it; production wiring builds the real client from config.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMClient implements the engine's model gateway over the OpenAI chat
// completions API, or any compatible endpoint via base URL override. One
// instance serves the whole process; concurrency is bounded by the llm pool,
// not here.
type LLMClient struct {
	chat         ChatAPI
	defaultModel string
	timeout      time.Duration
	logger       Logger
}

// LLMClientOpts configures an LLMClient.
type LLMClientOpts struct {
	APIKey       string
	BaseURL      string // empty means the provider default
	DefaultModel string // used when a request names no model
	Timeout      time.Duration
	Chat         ChatAPI // overrides APIKey/BaseURL wiring, for tests
	Logger       Logger
}

// NewLLMClient builds the gateway. The API key is required unless a ChatAPI
// is injected directly.
func NewLLMClient(opts LLMClientOpts) (*LLMClient, error) {
	chat := opts.Chat
	if chat == nil {
		if opts.APIKey == "" {
			return nil, fmt.Errorf("LLM API key is required")
		}
		cfg := openai.DefaultConfig(opts.APIKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
		chat = openai.NewClientWithConfig(cfg)
	}
	if opts.Logger == nil {
		opts.Logger = nopClientLogger{}
	}
	return &LLMClient{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		timeout:      opts.Timeout,
		logger:       opts.Logger,
	}, nil
}

// Chat translates the provider-neutral request, executes it, and maps the
// first choice back.
func (c *LLMClient) Chat(ctx context.Context, req sdk.ChatRequest) (*sdk.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("no model requested and no default model configured")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages are required")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    encodeMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	out := &sdk.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, sdk.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}

	c.logger.Debug("chat completion served",
		"model", model,
		"prompt_tokens", out.PromptTokens,
		"output_tokens", out.OutputTokens,
		"tool_calls", len(out.ToolCalls),
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func encodeMessages(messages []sdk.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:       call.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: call.Name, Arguments: call.Arguments},
			})
		}
		out = append(out, msg)
	}
	return out
}

func encodeTools(specs []sdk.ToolSpec) ([]openai.Tool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		params, err := json.Marshal(spec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s parameters are not JSON-encodable: %w", spec.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}
