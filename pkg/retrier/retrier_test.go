package retrier

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

// failing returns fn that fails the first n calls and counts every call.
func failing(n int, calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= n {
			return errFail
		}
		return nil
	}
}

func TestRetrier_Do(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		failures  int
		wantErr   bool
		wantCalls int
	}{
		{name: "first attempt", failures: 0, wantCalls: 1},
		{name: "recovers", opts: []Option{WithMaxRetries(3)}, failures: 2, wantCalls: 3},
		{name: "budget spent", opts: []Option{WithMaxRetries(2)}, failures: 10, wantErr: true, wantCalls: 3},
		{name: "no retries", opts: []Option{WithMaxRetries(0)}, failures: 1, wantErr: true, wantCalls: 1},
		{name: "unlimited", opts: []Option{WithMaxRetries(Unlimited), WithMaxInterval(2 * time.Millisecond)}, failures: 19, wantCalls: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithInitialInterval(time.Millisecond)}, tt.opts...)
			calls := 0

			err := New(opts...).Do(context.Background(), failing(tt.failures, &calls))
			if tt.wantErr {
				assert.ErrorIs(t, err, errFail)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetrier_ContextWinsOverRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := New(WithMaxRetries(5), WithInitialInterval(time.Hour)).Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errFail
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetrier_RetryIf(t *testing.T) {
	terminal := errors.New("terminal")
	calls := 0

	r := New(WithMaxRetries(5), WithInitialInterval(time.Millisecond),
		WithRetryIf(func(err error) bool { return errors.Is(err, errFail) }))
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.Wrap(errFail, "first")
		}
		return terminal
	})
	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 2, calls)
}

func TestRetrier_OnRetry(t *testing.T) {
	var attempts []int
	var waits []time.Duration

	r := New(WithMaxRetries(3), WithInitialInterval(time.Millisecond), WithJitter(0), WithMultiplier(2),
		WithOnRetry(func(attempt int, err error, wait time.Duration) {
			assert.ErrorIs(t, err, errFail)
			attempts = append(attempts, attempt)
			waits = append(waits, wait)
		}))

	err := r.Do(context.Background(), func(context.Context) error { return errFail })
	require.ErrorIs(t, err, errFail)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestRetrier_JitterStaysInBounds(t *testing.T) {
	r := New(WithJitter(0.5))
	for range 100 {
		d := r.jittered(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
	assert.Equal(t, 30*time.Second, r.grow(20*time.Second))
}

func TestDoWithData(t *testing.T) {
	calls := 0
	val, err := DoWithData(New(WithInitialInterval(time.Millisecond)), context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errFail
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)

	val, err = DoWithData(New(WithMaxRetries(0)), context.Background(), func(context.Context) (string, error) {
		return "partial", errFail
	})
	assert.ErrorIs(t, err, errFail)
	assert.Equal(t, "partial", val)
}
