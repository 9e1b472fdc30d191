package generator

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/pkg/limiter"
	"taskpilot/pkg/resilience/circuit"
	"taskpilot/pkg/resilience/retry"
)

type scriptedGenerator struct {
	calls int
	errs  []error
	out   string
}

func (s *scriptedGenerator) Generate(ctx context.Context, _ Request) (string, error) {
	s.calls++
	if len(s.errs) >= s.calls && s.errs[s.calls-1] != nil {
		return "", s.errs[s.calls-1]
	}
	return s.out, nil
}

func (s *scriptedGenerator) Name() string { return "scripted/test" }

func TestGuardRetriesTransient(t *testing.T) {
	gen := &scriptedGenerator{
		errs: []error{NewError(ErrorTypeTransient, "overloaded")},
		out:  "HELP",
	}
	guarded := Guard(gen, circuit.NewRegistry(circuit.DefaultConfig), GuardOptions{
		Timeout: time.Second,
		Retry:   retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond},
	})

	out, err := guarded.Generate(context.Background(), Request{Prompt: "?"})
	require.NoError(t, err)
	assert.Equal(t, "HELP", out)
	assert.Equal(t, 2, gen.calls)
	assert.Equal(t, "scripted/test", guarded.Name())
}

func TestGuardDoesNotRetryAuth(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{NewError(ErrorTypeAuth, "bad key")}}
	guarded := Guard(gen, circuit.NewRegistry(circuit.DefaultConfig), GuardOptions{
		Retry: retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond},
	})

	_, err := guarded.Generate(context.Background(), Request{Prompt: "?"})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeAuth, TypeOf(err))
	assert.Equal(t, 1, gen.calls)
}

func TestGuardOpensGeneratorBreaker(t *testing.T) {
	breakers := circuit.NewRegistry(circuit.Config{FailureThreshold: 2, Cooldown: time.Hour})
	gen := &scriptedGenerator{errs: []error{
		NewError(ErrorTypeTransient, "down"),
		NewError(ErrorTypeTransient, "down"),
		NewError(ErrorTypeTransient, "down"),
	}}
	guarded := Guard(gen, breakers, GuardOptions{Retry: retry.Config{MaxRetries: 0}})

	for i := 0; i < 2; i++ {
		_, err := guarded.Generate(context.Background(), Request{})
		require.Error(t, err)
	}
	_, err := guarded.Generate(context.Background(), Request{})
	assert.True(t, circuit.IsOpen(err))
	assert.Equal(t, 2, gen.calls)
	assert.Equal(t, circuit.Open, breakers.Snapshots()[Dependency].State)
}

func TestClassifyStatus(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		status int
		want   ErrorType
	}{
		{401, ErrorTypeAuth},
		{403, ErrorTypeAuth},
		{429, ErrorTypeRateLimit},
		{400, ErrorTypeBadPrompt},
		{503, ErrorTypeTransient},
		{0, ErrorTypeUnknown},
	}
	for _, tt := range tests {
		got := ClassifyStatus(tt.status, cause)
		assert.Equal(t, tt.want, got.Type, "status %d", tt.status)
		assert.ErrorIs(t, got, cause)
	}
}

func TestErrorTransient(t *testing.T) {
	assert.True(t, NewError(ErrorTypeRateLimit, "").Transient())
	assert.True(t, NewError(ErrorTypeEmptyResponse, "").Transient())
	assert.False(t, NewError(ErrorTypeAuth, "").Transient())
	assert.False(t, NewError(ErrorTypeBadPrompt, "").Transient())
	assert.Equal(t, "generator error (auth): bad key", NewError(ErrorTypeAuth, "bad key").Error())
}

func TestTokenCounter(t *testing.T) {
	tc, err := NewTokenCounter()
	require.NoError(t, err)

	assert.Positive(t, tc.Count("add a task to buy groceries tomorrow"))
	long := "word "
	for i := 0; i < 8; i++ {
		long += long
	}
	truncated := tc.Truncate(long, 10)
	assert.LessOrEqual(t, tc.Count(truncated), 10)
	assert.Equal(t, "short", tc.Truncate("short", 10))
	assert.Empty(t, tc.Truncate("anything", 0))
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	var estimate *TokenCounter
	got := estimate.Truncate("héllo wörld 🎉🎉", 3)
	assert.Equal(t, "héllo wörl", got)
	assert.True(t, utf8.ValidString(got))

	// A cut inside a multi-byte emoji drops the partial cluster.
	got = estimate.Truncate("ab🎉🎉", 1)
	assert.Equal(t, "ab", got)

	tc, err := NewTokenCounter()
	require.NoError(t, err)
	for limit := 1; limit < 12; limit++ {
		assert.True(t, utf8.ValidString(tc.Truncate("Füße 🎉 über naïve café 日本語のタスク", limit)), "limit %d", limit)
	}
}

func TestBudgetRejectsOverspend(t *testing.T) {
	lim := limiter.New(limiter.Limits{PerMinute: 15})
	t.Cleanup(lim.Close)
	gen := &scriptedGenerator{out: "LIST_TODOS"}
	limited := Budget(gen, lim, nil)

	// 8 bytes estimate to 2 tokens, plus 8 completion tokens.
	req := Request{Prompt: "12345678", MaxTokens: 8}
	out, err := limited.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "LIST_TODOS", out)

	_, err = limited.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(err))
	assert.True(t, errors.Is(err, limiter.ErrRateLimit))
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "scripted/test", limited.Name())
}

func TestBudgetWithoutLimiter(t *testing.T) {
	gen := &scriptedGenerator{}
	assert.Same(t, gen, Budget(gen, nil, nil))
}
