// Package retrier runs an operation again with exponential backoff until it
// succeeds, the attempt budget is spent or the context is done.
package retrier

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 5
	defaultJitter          = 0.1
)

// Unlimited disables the retry ceiling; only the context stops the loop.
const Unlimited = -1

// Retrier holds a backoff policy. It is safe to reuse across calls.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	retryIf         func(error) bool
	onRetry         func(attempt int, err error, wait time.Duration)
}

type Option func(*Retrier)

// WithInitialInterval sets the wait before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) { r.initialInterval = d }
}

// WithMaxInterval caps the wait between attempts.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) { r.maxInterval = d }
}

func WithMultiplier(m float64) Option {
	return func(r *Retrier) { r.multiplier = m }
}

// WithMaxRetries sets how many retries follow the first attempt. Use Unlimited to retry until ctx is done.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) { r.maxRetries = n }
}

// WithJitter spreads each wait by ±j of its length, j in [0, 1].
func WithJitter(j float64) Option {
	return func(r *Retrier) { r.jitter = j }
}

// WithRetryIf retries only errors accepted by fn; others are returned immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithOnRetry registers a hook called before each backoff sleep.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls fn until it returns nil and reports the last error otherwise.
// A done context wins over a pending retry and its error is returned.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	interval := r.initialInterval
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !r.shouldRetry(attempt+1, err) {
			return err
		}

		wait := r.jittered(interval)
		if r.onRetry != nil {
			r.onRetry(attempt+1, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		interval = r.grow(interval)
	}
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

func (r *Retrier) shouldRetry(next int, err error) bool {
	if r.maxRetries >= 0 && next > r.maxRetries {
		return false
	}
	return r.retryIf == nil || r.retryIf(err)
}

func (r *Retrier) jittered(d time.Duration) time.Duration {
	if r.jitter <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * r.jitter * float64(d)
	return max(time.Duration(float64(d)+spread), 0)
}

func (r *Retrier) grow(d time.Duration) time.Duration {
	return min(time.Duration(float64(d)*r.multiplier), r.maxInterval)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
