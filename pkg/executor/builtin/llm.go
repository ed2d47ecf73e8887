package builtin

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/models"
)

// DefaultLLMModel applies when the action carries no model field.
const DefaultLLMModel = openai.GPT4oMini

// LLMHandler executes llm nodes against an OpenAI-compatible chat
// completion API. The API key is resolved from the action payload first,
// then from the process environment.
type LLMHandler struct {
	*executor.Base
}

// NewLLMHandler creates a new LLM handler.
func NewLLMHandler() *LLMHandler {
	return &LLMHandler{Base: executor.NewBase(models.UsesLLM)}
}

// Execute sends the prompt and returns the completion text with usage.
func (h *LLMHandler) Execute(ctx context.Context, ec *executor.Context, action map[string]any) (any, error) {
	prompt, err := h.RequireString(action, "prompt")
	if err != nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: err.Error()}
	}

	apiKey := h.GetString(action, "api_key", "")
	if apiKey == "" && ec != nil {
		apiKey = ec.Env["OPENAI_API_KEY"]
	}
	if apiKey == "" {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: "llm: missing api_key and no OPENAI_API_KEY in env"}
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := h.GetString(action, "base_url", ""); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	messages := []openai.ChatCompletionMessage{}
	if system := h.GetString(action, "system", ""); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    h.GetString(action, "model", DefaultLLMModel),
		Messages: messages,
	}
	if temperature, ok := action["temperature"].(float64); ok {
		req.Temperature = float32(temperature)
	}
	if maxTokens := h.GetInt(action, "max_tokens", 0); maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, models.ErrCancelled
		}
		return nil, &models.HandlerError{Kind: models.HandlerErrLLM, Detail: "chat completion failed", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &models.HandlerError{Kind: models.HandlerErrLLM, Detail: "no completion choices returned"}
	}

	return map[string]any{
		"text":  resp.Choices[0].Message.Content,
		"model": resp.Model,
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}, nil
}

// Validate checks the action payload shape.
func (h *LLMHandler) Validate(action map[string]any) error {
	_, err := h.RequireString(action, "prompt")
	return err
}
