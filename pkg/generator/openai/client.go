// Package openai provides an OpenAI text generator using the Responses API.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"taskpilot/pkg/generator"
)

// Client wraps the official OpenAI Go client to implement generator.TextGenerator.
//
//nolint:govet // Simple struct, field alignment not critical
type Client struct {
	client openai.Client
	model  string
}

// New creates an OpenAI generator. SDK-level retries are disabled; retry is applied by generator.Guard.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Name implements generator.TextGenerator.
func (c *Client) Name() string {
	return "openai/" + c.model
}

// Generate implements generator.TextGenerator.
func (c *Client) Generate(ctx context.Context, req generator.Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens < 16 {
		maxTokens = 16
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(maxTokens),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Prompt)},
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}
	if resp == nil {
		return "", generator.NewError(generator.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	text := resp.OutputText()
	if text == "" {
		return "", generator.NewError(generator.ErrorTypeEmptyResponse, "no output text in OpenAI response")
	}
	return text, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return generator.ClassifyStatus(apiErr.StatusCode, err)
	}
	return generator.ClassifyMessage(err)
}
