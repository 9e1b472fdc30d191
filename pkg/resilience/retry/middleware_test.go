package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedWaits struct {
	delays []time.Duration
}

func (r *recordedWaits) wait(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestPolicy(maxRetries int, waits *recordedWaits) *Policy {
	p := NewPolicy(Config{MaxRetries: maxRetries, BaseDelay: time.Second}, nil)
	p.Wait = waits.wait
	return p
}

func TestMiddlewareRetriesTransientUntilExhausted(t *testing.T) {
	waits := &recordedWaits{}
	calls := 0
	h := Middleware[string, string](newTestPolicy(3, waits))(func(_ context.Context, _ string) (string, error) {
		calls++
		return "", context.DeadlineExceeded
	})

	_, err := h(context.Background(), "req")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, waits.delays,
		"backoff before each retry, none after the last attempt")
}

func TestMiddlewareTerminalErrorSingleAttempt(t *testing.T) {
	waits := &recordedWaits{}
	calls := 0
	terminal := transientErr(false)
	h := Middleware[string, string](newTestPolicy(3, waits))(func(_ context.Context, _ string) (string, error) {
		calls++
		return "", terminal
	})

	_, err := h(context.Background(), "req")

	assert.Equal(t, terminal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits.delays)
}

func TestMiddlewareRecoversAfterTransient(t *testing.T) {
	waits := &recordedWaits{}
	calls := 0
	h := Middleware[string, string](newTestPolicy(3, waits))(func(_ context.Context, _ string) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	})

	out, err := h(context.Background(), "req")

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
	assert.Len(t, waits.delays, 2)
}

func TestMiddlewareZeroRetries(t *testing.T) {
	waits := &recordedWaits{}
	calls := 0
	h := Middleware[string, string](newTestPolicy(0, waits))(func(_ context.Context, _ string) (string, error) {
		calls++
		return "", context.DeadlineExceeded
	})

	_, err := h(context.Background(), "req")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits.delays)
}

func TestMiddlewareCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPolicy(Config{MaxRetries: 3, BaseDelay: time.Hour}, nil)
	calls := 0
	h := Middleware[string, string](p)(func(_ context.Context, _ string) (string, error) {
		calls++
		cancel()
		return "", errors.New("503 unavailable")
	})

	_, err := h(ctx, "req")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestMiddlewareOnRetryHook(t *testing.T) {
	waits := &recordedWaits{}
	p := newTestPolicy(2, waits)
	var retries []int
	p.OnRetry = func(retry int, _ time.Duration, _ error) { retries = append(retries, retry) }

	h := Middleware[string, string](p)(func(_ context.Context, _ string) (string, error) {
		return "", errors.New("timeout")
	})
	_, _ = h(context.Background(), "req")

	assert.Equal(t, []int{1, 2}, retries)
}
