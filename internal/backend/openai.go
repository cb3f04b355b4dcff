package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const DefaultSystemPrompt = "You are a helpful assistant. Use the previous context when it is relevant to the current message."

// OpenAIBackend talks to any OpenAI-compatible chat completions API.
type OpenAIBackend struct {
	client       *openai.Client
	model        string
	maxTokens    int
	temperature  float64
	systemPrompt string
	logger       *zap.Logger
}

func NewOpenAIBackend(cfg OpenAIConfig, logger *zap.Logger) *OpenAIBackend {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	return &OpenAIBackend{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

func (b *OpenAIBackend) Chat(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: b.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: b.systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   b.maxTokens,
			Temperature: float32(b.temperature),
		},
	)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	// the reply is returned verbatim, whitespace only counts as empty
	reply := resp.Choices[0].Message.Content
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyResponse
	}

	b.logger.Debug("Chat completion received",
		zap.String("model", b.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return reply, nil
}
