// Package watcher follows the live transaction stream of the active address
// and dispatches purchase deliveries at most once per order id per subscription.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/internal/domain"
	"github.com/vadiminshakov/datex/internal/metrics"
	"github.com/vadiminshakov/datex/internal/services/gateway"
	"github.com/vadiminshakov/datex/pkg/retrier"
)

const (
	DefaultReconnectInterval    = time.Second
	DefaultMaxReconnectInterval = 30 * time.Second
)

var errStreamEnded = errors.New("transaction stream ended")

type streamOpener interface {
	OpenStream(ctx context.Context, address, cursor string) (gateway.Stream, error)
}

// DeliveryHandler is notified once per confirmed purchase. Implementations
// must return quickly; they run on the stream path.
type DeliveryHandler interface {
	OnPurchaseConfirmed(orderID string)
}

type publisher interface {
	Publish(domain.StatusEvent)
}

// Config tunes reconnect backoff.
type Config struct {
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
}

// Watcher owns at most one subscription at a time.
type Watcher struct {
	l       *zap.Logger
	opener  streamOpener
	handler DeliveryHandler
	events  publisher
	cfg     Config

	mu  sync.Mutex
	sub *subscription

	// infoMu guards the values readable while Stop waits on the stream,
	// so handlers may query them.
	infoMu   sync.RWMutex
	address  string
	lastHash string
}

// subscription state is owned by its run goroutine.
type subscription struct {
	address string
	cancel  context.CancelFunc
	done    chan struct{}
	cursor  string
	seen    map[string]struct{}
}

// New creates a Watcher.
func New(l *zap.Logger, opener streamOpener, handler DeliveryHandler, events publisher, cfg Config) *Watcher {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxReconnectInterval < cfg.ReconnectInterval {
		cfg.MaxReconnectInterval = DefaultMaxReconnectInterval
	}

	return &Watcher{
		l:       l,
		opener:  opener,
		handler: handler,
		events:  events,
		cfg:     cfg,
	}
}

// Start subscribes to address from the current ledger position. An existing
// subscription is fully released first.
func (w *Watcher) Start(ctx context.Context, address string) error {
	if address == "" {
		return errors.New("address is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		address: address,
		cancel:  cancel,
		done:    make(chan struct{}),
		cursor:  gateway.CursorNow,
		seen:    make(map[string]struct{}),
	}
	w.sub = sub
	w.setAddress(address)

	go w.run(subCtx, sub)

	w.l.Info("transaction stream subscribed", zap.String("address", address))
	return nil
}

// Stop releases the current subscription and waits until its stream is closed.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watcher) stopLocked() {
	if w.sub == nil {
		return
	}
	w.sub.cancel()
	<-w.sub.done
	w.l.Info("transaction stream unsubscribed", zap.String("address", w.sub.address))
	w.sub = nil
	w.setAddress("")
}

// Address returns the subscribed address, or empty when stopped.
func (w *Watcher) Address() string {
	w.infoMu.RLock()
	defer w.infoMu.RUnlock()
	return w.address
}

func (w *Watcher) setAddress(address string) {
	w.infoMu.Lock()
	w.address = address
	w.infoMu.Unlock()
}

// LastTransactionHash returns the hash of the last observed transaction.
func (w *Watcher) LastTransactionHash() string {
	w.infoMu.RLock()
	defer w.infoMu.RUnlock()
	return w.lastHash
}

func (w *Watcher) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)
	log := w.l.With(zap.String("address", sub.address))

	for ctx.Err() == nil {
		// backoff restarts after every stream that delivered records
		r := retrier.New(
			retrier.WithMaxRetries(retrier.Unlimited),
			retrier.WithInitialInterval(w.cfg.ReconnectInterval),
			retrier.WithMaxInterval(w.cfg.MaxReconnectInterval),
			retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
				metrics.ObserveReconnect()
				log.Warn("transaction stream interrupted, reconnecting",
					zap.Int("attempt", attempt),
					zap.String("cursor", sub.cursor),
					zap.Duration("wait", wait),
					zap.Error(err),
				)
			}),
		)

		// only cancellation ends an unlimited retry loop with an error
		if err := r.Do(ctx, func(ctx context.Context) error {
			return w.follow(ctx, log, sub)
		}); err != nil {
			log.Debug("transaction stream loop stopped", zap.Error(err))
			return
		}
	}
}

// follow reads one stream until it ends. It returns nil when the stream
// delivered records before ending.
func (w *Watcher) follow(ctx context.Context, log *zap.Logger, sub *subscription) error {
	stream, err := w.opener.OpenStream(ctx, sub.address, sub.cursor)
	if err != nil {
		return errors.Wrap(err, "failed to open transaction stream")
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn("failed to close transaction stream", zap.Error(err))
		}
	}()

	records := stream.Records()
	received := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-records:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				streamErr := stream.Err()
				log.Info("transaction stream ended, reconnecting",
					zap.String("cursor", sub.cursor),
					zap.Int("received", received),
					zap.Error(streamErr),
				)
				if received > 0 {
					return nil
				}
				if streamErr == nil {
					streamErr = errStreamEnded
				}
				return streamErr
			}
			received++
			w.handle(log, sub, rec)
		}
	}
}

func (w *Watcher) handle(log *zap.Logger, sub *subscription, rec domain.TransactionRecord) {
	metrics.ObserveStreamRecord()

	if rec.PagingToken != "" {
		sub.cursor = rec.PagingToken
	}
	defer w.observeHash(rec.Hash)

	ev := domain.StatusEvent{
		Timestamp: time.Now(),
		Source:    domain.SourceStream,
		State:     "observed",
		Message:   "Transaction observed: " + rec.Hash,
		Address:   sub.address,
		TxHash:    rec.Hash,
	}

	orderID, ok := OrderID(rec)
	if !ok || !rec.Successful {
		w.publish(ev)
		return
	}

	if _, seen := sub.seen[orderID]; seen {
		metrics.ObserveDuplicate()
		log.Debug("duplicate purchase memo skipped", zap.String("order_id", orderID), zap.String("hash", rec.Hash))
		w.publish(ev)
		return
	}
	sub.seen[orderID] = struct{}{}

	log.Info("purchase detected", zap.String("order_id", orderID), zap.String("hash", rec.Hash))
	w.deliver(log, orderID)
	metrics.ObserveDelivery()

	ev.State = "purchase_detected"
	ev.OrderID = orderID
	ev.Message = "Purchase detected! Data delivery simulated for ID: " + orderID
	w.publish(ev)
}

func (w *Watcher) deliver(log *zap.Logger, orderID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("delivery handler panicked", zap.String("order_id", orderID), zap.Any("panic", r))
		}
	}()
	w.handler.OnPurchaseConfirmed(orderID)
}

func (w *Watcher) observeHash(hash string) {
	if hash == "" {
		return
	}
	w.infoMu.Lock()
	w.lastHash = hash
	w.infoMu.Unlock()
}

func (w *Watcher) publish(ev domain.StatusEvent) {
	if w.events != nil {
		w.events.Publish(ev)
	}
}
