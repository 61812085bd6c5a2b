// Package ai adapts the hosted chat-completion API behind a small generation
// surface: a blocking completion and a streaming variant that yields text
// fragments in arrival order. The rest of the application treats this as an
// opaque capability; prompts go in, text (whole or fragmented) comes out.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds the generation provider configuration.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// DefaultSystemPrompt is the fixed instruction sent with every prompt when
// the deployment does not configure its own.
const DefaultSystemPrompt = "You are a professional legal assistant."

// Client generates assistant replies via the OpenAI-compatible API.
type Client struct {
	api          *openai.Client
	model        string
	systemPrompt string
	timeout      time.Duration
}

// NewClient constructs a generation client. BaseURL may point at any
// OpenAI-compatible endpoint; an empty SystemPrompt falls back to
// DefaultSystemPrompt.
func NewClient(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	sp := cfg.SystemPrompt
	if sp == "" {
		sp = DefaultSystemPrompt
	}
	return &Client{
		api:          openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: sp,
		timeout:      cfg.Timeout,
	}
}

func (c *Client) messages(prompt string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
}

// Complete blocks until the full reply for prompt is available. The
// configured timeout bounds the call; streaming is bounded by its own
// context instead, since a healthy stream may legitimately outlive it.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: c.messages(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream opens a streaming completion for prompt. Fragments arrive on the
// first channel in generation order; the channel is closed on upstream
// exhaustion. A mid-stream failure is delivered on the error channel before
// both channels close. The caller should drain fragments promptly; the
// producer blocks on an unbuffered channel and honors ctx cancellation.
func (c *Client) Stream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	fragments := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(fragments)
		defer close(errc)

		stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: c.messages(prompt),
			Stream:   true,
		})
		if err != nil {
			errc <- fmt.Errorf("open completion stream: %w", err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errc <- fmt.Errorf("receive fragment: %w", err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case fragments <- delta:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return fragments, errc
}
