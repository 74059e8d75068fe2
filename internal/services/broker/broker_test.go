package broker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/internal/domain"
)

func TestBroker_ResolvesOnce(t *testing.T) {
	var calls atomic.Int32
	b := New(zap.NewNop(), func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}, time.Millisecond, time.Second)

	require.NoError(t, b.Wait(context.Background()))
	assert.True(t, b.Resolved())
	assert.Equal(t, int32(3), calls.Load())

	require.NoError(t, b.Wait(context.Background()))
	assert.Equal(t, int32(3), calls.Load(), "resolved broker must not probe again")
}

func TestBroker_Timeout(t *testing.T) {
	b := New(zap.NewNop(), func(context.Context) error {
		return errors.New("down")
	}, time.Millisecond, 20*time.Millisecond)

	start := time.Now()
	err := b.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNetwork))
	assert.False(t, b.Resolved())
	assert.Less(t, time.Since(start), time.Second)
}

func TestBroker_Cancel(t *testing.T) {
	b := New(zap.NewNop(), func(context.Context) error {
		return errors.New("down")
	}, time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Wait(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("wait was not cancelled")
	}
}
