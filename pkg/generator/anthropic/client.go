// Package anthropic provides an Anthropic Claude text generator.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"taskpilot/pkg/generator"
)

// Client wraps the Anthropic API client to implement generator.TextGenerator.
//
//nolint:govet // Simple client struct, logical grouping preferred
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a Claude generator. SDK-level retries are disabled; retry is applied by generator.Guard.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// Name implements generator.TextGenerator.
func (c *Client) Name() string {
	return "anthropic/" + string(c.model)
}

// Generate implements generator.TextGenerator.
func (c *Client) Generate(ctx context.Context, req generator.Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 64
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.Prompt)},
		}},
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System, Type: "text"}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", generator.NewError(generator.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if text.Len() == 0 {
		return "", generator.NewError(generator.ErrorTypeEmptyResponse, "no text blocks in Claude response")
	}
	return text.String(), nil
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return generator.ClassifyStatus(apiErr.StatusCode, err)
	}
	return generator.ClassifyMessage(err)
}
