package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"classrelay/pkg/interfaces"
)

// DefaultModel is the completion model used for every call.
const DefaultModel = openai.GPT4oMini

// Client wraps the completion endpoint. Every failure is reported as a
// transport failure; callers decide how to degrade.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient builds a client for the given API key. An empty model falls
// back to DefaultModel.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		api:   openai.NewClient(apiKey),
		model: model,
	}
}

// Complete runs one completion and returns the trimmed response text.
func (c *Client) Complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	return c.complete(ctx, system, user, temperature, 0, false)
}

// CompleteJSON is Complete constrained to a single JSON object response.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, temperature float32) (string, error) {
	return c.complete(ctx, system, user, temperature, 0, true)
}

// CompleteCapped is Complete with an output token ceiling.
func (c *Client) CompleteCapped(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error) {
	return c.complete(ctx, system, user, temperature, maxTokens, false)
}

func (c *Client) complete(ctx context.Context, system, user string, temperature float32, maxTokens int, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		logrus.WithError(err).Warn("completion request failed")
		return "", fmt.Errorf("%w: completion request: %v", interfaces.ErrTransport, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", interfaces.ErrTransport)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
