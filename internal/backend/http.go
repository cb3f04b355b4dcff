package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Text    string `json:"text"`
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// HTTPBackend posts the prompt to a plain text-generation endpoint, the
// {"prompt","max_tokens","temperature"} -> {"choices":[{"text"}]} contract.
type HTTPBackend struct {
	client      *resty.Client
	endpoint    string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewHTTPBackend(cfg HTTPConfig, logger *zap.Logger) *HTTPBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &HTTPBackend{
		client:      client,
		endpoint:    cfg.Endpoint,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

func (b *HTTPBackend) Chat(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Prompt:      prompt,
			MaxTokens:   b.maxTokens,
			Temperature: b.temperature,
		}).
		SetResult(&out).
		Post(b.endpoint)
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("generate request failed: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	reply := out.Text
	if len(out.Choices) > 0 && out.Choices[0].Text != "" {
		reply = out.Choices[0].Text
	}
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyResponse
	}

	b.logger.Debug("Generate response received",
		zap.String("endpoint", b.endpoint),
		zap.Duration("elapsed", resp.Time()))

	return reply, nil
}
