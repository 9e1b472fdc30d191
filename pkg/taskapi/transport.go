package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskpilot/pkg/command"
)

const (
	maxBodyBytes = 1 << 20

	// UserHeader carries the authenticated user id to the Task Store.
	UserHeader = "X-User-ID"
)

// Response is a successful Task Store reply.
type Response struct {
	StatusCode int
	Body       map[string]any
}

// Transport performs one attempt of a command. Failures are returned as *Error where the
// transport can classify them; context errors are returned wrapped.
type Transport interface {
	Do(ctx context.Context, cmd command.Command) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, cmd command.Command) (Response, error)

// Do calls f.
func (f TransportFunc) Do(ctx context.Context, cmd command.Command) (Response, error) {
	return f(ctx, cmd)
}

type userIDKey struct{}

// WithUserID attaches the authenticated user id forwarded to the Task Store.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user id set by WithUserID.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// HTTPTransport maps commands onto the Task Store REST API.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPTransport creates a transport for baseURL. A nil client uses a client without an
// overall timeout; attempt deadlines come from the context.
func NewHTTPTransport(baseURL, token string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, cmd command.Command) (Response, error) {
	u := t.baseURL + "/" + strings.TrimLeft(cmd.Target, "/")
	if len(cmd.Query) > 0 {
		q := url.Values{}
		for k, v := range cmd.Query {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	var body io.Reader
	if cmd.Payload != nil && (cmd.Method == command.MethodPost || cmd.Method == command.MethodPut) {
		data, err := json.Marshal(cmd.Payload)
		if err != nil {
			return Response{}, &Error{Kind: KindTerminal, Message: "failed to encode payload", Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, string(cmd.Method), u, body)
	if err != nil {
		return Response{}, &Error{Kind: KindTerminal, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	if cmd.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", cmd.IdempotencyKey)
	}
	if userID := UserIDFromContext(ctx); userID != "" {
		req.Header.Set(UserHeader, userID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("%s %s: %w", cmd.Method, cmd.Target, ctx.Err())
		}
		return Response{}, &Error{Kind: KindTransient, Message: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("%s %s: %w", cmd.Method, cmd.Target, ctx.Err())
		}
		return Response{}, &Error{Kind: KindTransient, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, statusError(resp.StatusCode)
	}
	return Response{StatusCode: resp.StatusCode, Body: decodeBody(data)}, nil
}

// decodeBody accepts an object, an array (wrapped under "tasks") or anything else (under "raw").
func decodeBody(data []byte) map[string]any {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return map[string]any{"raw": string(trimmed)}
	}
	switch body := v.(type) {
	case map[string]any:
		return body
	case []any:
		return map[string]any{"tasks": body}
	default:
		return map[string]any{"value": body}
	}
}
