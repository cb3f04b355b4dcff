package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyResponse is returned when the backend answered with no text.
var ErrEmptyResponse = errors.New("backend: empty response")

// Backend is the external chat-completion capability.
type Backend interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Func lets a plain function act as a Backend.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Chat(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const (
	ProviderOpenAI = "openai"
	ProviderHTTP   = "http"
)

type Config struct {
	Provider string
	OpenAI   OpenAIConfig
	HTTP     HTTPConfig
}

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

type HTTPConfig struct {
	Endpoint    string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func New(cfg Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIBackend(cfg.OpenAI, logger), nil
	case ProviderHTTP:
		if cfg.HTTP.Endpoint == "" {
			return nil, fmt.Errorf("http backend: endpoint is required")
		}
		return NewHTTPBackend(cfg.HTTP, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}
