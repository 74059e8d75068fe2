// Package events fans out engine notifications to UI consumers.
package events

import (
	"sync"

	"github.com/vadiminshakov/datex/internal/domain"
)

const defaultBuffer = 64

// Broadcaster fans out values to all subscribers via buffered channels.
// Slow subscribers miss values instead of blocking publishers.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &Broadcaster[T]{
		subs:   make(map[chan T]struct{}),
		buffer: buffer,
	}
}

// StatusBroadcaster carries readiness, purchase, stream and delivery status updates.
type StatusBroadcaster = Broadcaster[domain.StatusEvent]

// NewStatusBroadcaster creates a StatusBroadcaster.
func NewStatusBroadcaster(buffer int) *StatusBroadcaster {
	return NewBroadcaster[domain.StatusEvent](buffer)
}

// Publish sends v to all subscribers, dropping it for readers that are behind.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives values until Unsubscribe is called.
func (b *Broadcaster[T]) Subscribe() chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
