// Package llm talks to an OpenAI-style chat-completions backend and parses
// the call-control directives embedded in its replies.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message is one chat turn. The wire shape is the OpenAI chat format.
type Message = openai.ChatCompletionMessage

// Role constants for building message lists.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Config configures the chat-completions client.
type Config struct {
	// BaseURL of the OpenAI-compatible API, e.g. "https://api.openai.com/v1"
	// or a local gateway.
	BaseURL string
	// APIKey is sent as a bearer token. May be empty for unauthenticated
	// local backends.
	APIKey string
	// Model to request.
	Model string
	// Timeout bounds one full completion including streaming.
	Timeout time.Duration
}

// Client generates chat completions.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewClient creates a chat-completions client.
func NewClient(cfg Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api:     openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Complete streams a chat completion and returns the fully accumulated
// reply. The reply is never returned partially: a directive at the tail of
// a half-received reply would be lost, and half a sign-off must not be
// spoken.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	defer stream.Close()

	var buf strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A partially received reply is unusable, see above.
			return "", fmt.Errorf("chat completion stream: %w", err)
		}
		if len(resp.Choices) > 0 {
			buf.WriteString(resp.Choices[0].Delta.Content)
		}
	}

	reply := buf.String()
	log.Printf("[LLM] completion: %d chars", len(reply))
	return reply, nil
}
