// Package ollama provides a text generator backed by a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"taskpilot/pkg/generator"
)

// DefaultHost is used when no host URL is configured or it fails to parse.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client to implement generator.TextGenerator.
type Client struct {
	client *api.Client
	model  string
}

// New creates an Ollama generator. hostURL should be the Ollama server URL (e.g., "http://localhost:11434").
func New(hostURL, model string) *Client {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Scheme == "" {
		parsedURL, _ = url.Parse(DefaultHost)
	}

	return &Client{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}
}

// Name implements generator.TextGenerator.
func (o *Client) Name() string {
	return "ollama/" + o.model
}

// Generate implements generator.TextGenerator.
func (o *Client) Generate(ctx context.Context, req generator.Request) (string, error) {
	messages := make([]api.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	stream := false
	chatReq := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return "", classifyError(err)
	}
	if response.Message.Content == "" {
		return "", generator.NewError(generator.ErrorTypeEmptyResponse, "empty response from Ollama")
	}
	return response.Message.Content, nil
}

// classifyError converts Ollama errors to generator errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return generator.ClassifyStatus(statusErr.StatusCode, fmt.Errorf("ollama: %w", err))
	}
	return generator.ClassifyMessage(err)
}
