// Package google provides a Gemini text generator.
package google

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"taskpilot/pkg/generator"
)

// Client wraps the Gemini API client to implement generator.TextGenerator.
// The SDK client needs a context to construct, so it is created on first use.
type Client struct {
	apiKey  string
	model   string
	baseURL string

	once    sync.Once
	client  *genai.Client
	initErr error
}

// New creates a Gemini generator. baseURL overrides the API endpoint when non-empty.
func New(apiKey, model, baseURL string) *Client {
	return &Client{apiKey: apiKey, model: model, baseURL: baseURL}
}

// Name implements generator.TextGenerator.
func (g *Client) Name() string {
	return "google/" + g.model
}

func (g *Client) init(ctx context.Context) error {
	g.once.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if g.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
		}
		g.client, g.initErr = genai.NewClient(ctx, cfg)
	})
	if g.initErr != nil {
		return generator.NewErrorWithCause(generator.ErrorTypeAuth, g.initErr, "failed to create Gemini client")
	}
	return nil
}

// Generate implements generator.TextGenerator.
func (g *Client) Generate(ctx context.Context, req generator.Request) (string, error) {
	if err := g.init(ctx); err != nil {
		return "", err
	}

	temperature := req.Temperature
	//nolint:gosec // MaxTokens is small and validated by config
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	contents := []*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Prompt}}}}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", classifyError(err)
	}
	if result == nil || result.Text() == "" {
		return "", generator.NewError(generator.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}
	return result.Text(), nil
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return generator.ClassifyStatus(apiErr.Code, fmt.Errorf("gemini: %w", err))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return generator.ClassifyStatus(apiErrPtr.Code, fmt.Errorf("gemini: %w", err))
	}
	return generator.ClassifyMessage(err)
}
