package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/pkg/generator"
)

func TestGenerate(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "LIST_TODOS"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 2}
		}`))
	}))
	defer server.Close()

	client := New("test-key", "claude-test", option.WithBaseURL(server.URL))
	out, err := client.Generate(context.Background(), generator.Request{System: "classify", Prompt: "show my stuff", MaxTokens: 8})

	require.NoError(t, err)
	assert.Equal(t, "LIST_TODOS", out)
	assert.Equal(t, "claude-test", body["model"])
	assert.Equal(t, "anthropic/claude-test", client.Name())
}

func TestGenerateClassifiesAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	client := New("bad", "claude-test", option.WithBaseURL(server.URL))
	_, err := client.Generate(context.Background(), generator.Request{Prompt: "hi"})

	require.Error(t, err)
	assert.Equal(t, generator.ErrorTypeAuth, generator.TypeOf(err))
}
