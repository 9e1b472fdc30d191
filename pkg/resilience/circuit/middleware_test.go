package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRejectsWithoutCallingHandler(t *testing.T) {
	b := New("dep", Config{FailureThreshold: 2, Cooldown: time.Hour})
	calls := 0
	h := Middleware[string, string](b)(func(_ context.Context, _ string) (string, error) {
		calls++
		return "", errors.New("connection refused")
	})

	for i := 0; i < 2; i++ {
		_, err := h(context.Background(), "req")
		require.Error(t, err)
		assert.False(t, IsOpen(err))
	}
	assert.Equal(t, 2, calls)

	_, err := h(context.Background(), "req")
	assert.True(t, IsOpen(err))
	assert.Equal(t, 2, calls, "open circuit must not reach the handler")
}

func TestMiddlewarePanicReleasesTrial(t *testing.T) {
	clock := newFakeClock()
	b := New("dep", Config{FailureThreshold: 1, Cooldown: time.Second, Now: clock.Now})
	fail(t, b)
	clock.Advance(time.Second)

	h := Middleware[string, string](b)(func(_ context.Context, _ string) (string, error) {
		panic("boom")
	})
	assert.Panics(t, func() { _, _ = h(context.Background(), "req") })

	assert.Equal(t, Open, b.Snapshot().State)
}
