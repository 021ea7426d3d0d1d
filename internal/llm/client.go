// Package llm is the inference-service boundary. It defines the Client
// interface the pipeline depends on, provider implementations (Gemini
// via the official SDK, any OpenAI-compatible endpoint via HTTP), a
// process-wide rate limiter that every call site shares by injection,
// and the JSON-extraction utility for the service's free-form replies.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyResponse means the service answered with no usable text.
	ErrEmptyResponse = errors.New("llm: empty response")

	// ErrServiceUnavailable means the service could not be reached at all.
	ErrServiceUnavailable = errors.New("llm: service unavailable")
)

// Client is the single entry point for inference calls. Implementations
// must assume callers will receive malformed JSON, code fences, or
// missing fields and parse defensively on their side.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LimitedClient decorates a Client with the shared rate limiter so the
// minimum inter-call interval holds across classification, planning and
// debugging calls alike.
type LimitedClient struct {
	Limiter *Limiter
	Client  Client
}

var _ Client = (*LimitedClient)(nil)

// Complete waits for the rate floor, then delegates.
func (c *LimitedClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return c.Client.Complete(ctx, prompt)
}

// ClientFunc adapts a function to the Client interface, mainly for tests.
type ClientFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func checkResponse(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
