// Package llm wraps an OpenAI-compatible chat completion endpoint (Groq by
// default) behind a single-turn Complete call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the provider answers without any choice.
var ErrNoChoices = errors.New("llm: response has no choices")

// Completer answers a single system+user prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Client implements Completer with go-openai.
type Client struct {
	api   *openai.Client
	model string
}

// Opts holds parameters for creating a Client.
type Opts struct {
	APIKey     string
	BaseURL    string // e.g. https://api.groq.com/openai/v1
	Model      string
	HTTPClient *http.Client // optional; carries the request timeout
}

// New creates a Client. It returns nil when no API key is configured so
// callers can treat a nil Completer as "provider unavailable".
func New(opts Opts) *Client {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: opts.Model}
}

// Complete sends one system and one user message at temperature 0 and
// returns the trimmed content of the first choice.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
