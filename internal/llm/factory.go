package llm

import (
	"context"
	"fmt"

	"devassist/internal/config"
)

// NewFromConfig builds the provider named in config and wraps it with
// the shared rate limiter. The returned client is the only inference
// handle the rest of the pipeline sees.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, limiter *Limiter) (Client, error) {
	var inner Client
	var err error

	switch cfg.Provider {
	case "", "gemini":
		inner, err = NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
	case "openai":
		inner = NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	return &LimitedClient{Limiter: limiter, Client: inner}, nil
}
