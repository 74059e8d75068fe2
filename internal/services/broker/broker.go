// Package broker resolves the ledger capability once: it polls an availability
// probe on a fixed interval under a timeout ceiling.
package broker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/internal/domain"
)

const (
	DefaultInterval = 500 * time.Millisecond
	DefaultTimeout  = 10 * time.Second
)

// Probe reports nil once the capability is usable.
type Probe func(ctx context.Context) error

// Broker waits for a capability and remembers success.
type Broker struct {
	l        *zap.Logger
	probe    Probe
	interval time.Duration
	timeout  time.Duration

	sem      chan struct{}
	mu       sync.RWMutex
	resolved bool
}

// New creates a Broker. Non-positive durations fall back to defaults.
func New(l *zap.Logger, probe Probe, interval, timeout time.Duration) *Broker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Broker{
		l:        l,
		probe:    probe,
		interval: interval,
		timeout:  timeout,
		sem:      make(chan struct{}, 1),
	}
}

// Resolved reports whether the capability has been acquired.
func (b *Broker) Resolved() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resolved
}

// Wait blocks until the capability is available, ctx is done or the timeout
// ceiling passes. Concurrent callers share a single poll loop.
func (b *Broker) Wait(ctx context.Context) error {
	if b.Resolved() {
		return nil
	}

	select {
	case b.sem <- struct{}{}:
		defer func() { <-b.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	// a previous holder may have resolved it
	if b.Resolved() {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		err := b.probe(waitCtx)
		if err == nil {
			b.mu.Lock()
			b.resolved = true
			b.mu.Unlock()
			b.l.Info("ledger service available", zap.Int("attempts", attempt))
			return nil
		}
		b.l.Debug("ledger service not available yet", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.NewError(domain.KindNetwork, "ledger service did not become available in "+b.timeout.String(), err)
		case <-ticker.C:
		}
	}
}
