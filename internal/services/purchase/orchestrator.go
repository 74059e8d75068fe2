// Package purchase submits payments for marketplace items.
package purchase

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/stellar/go-stellar-sdk/txnbuild"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/internal/domain"
	"github.com/vadiminshakov/datex/internal/metrics"
	"github.com/vadiminshakov/datex/internal/services/signer"
	"github.com/vadiminshakov/datex/pkg/retrier"
)

const (
	DefaultRefreshDelay       = 2 * time.Second
	DefaultMaxSequenceRetries = 1
	defaultRetryInterval      = 250 * time.Millisecond
)

type readinessSource interface {
	Snapshot() domain.Readiness
	RefreshAfter(delay time.Duration)
}

type ledger interface {
	LoadAccount(ctx context.Context, address string) (domain.Account, error)
	Submit(ctx context.Context, tx *txnbuild.Transaction) (domain.SubmitResult, error)
}

type paymentBuilder interface {
	Payment(source domain.Account, order domain.PendingOrder) (*txnbuild.Transaction, error)
}

type publisher interface {
	Publish(domain.StatusEvent)
}

// Config tunes the orchestrator.
type Config struct {
	// MaxSequenceRetries rebuilds on stale sequence this many times.
	MaxSequenceRetries int
	// RefreshDelay lets the ledger settle before readiness is re-evaluated.
	RefreshDelay  time.Duration
	RetryInterval time.Duration
}

// Orchestrator validates and submits purchases.
type Orchestrator struct {
	l         *zap.Logger
	readiness readinessSource
	ledger    ledger
	builder   paymentBuilder
	signer    signer.Signer
	events    publisher
	cfg       Config
	now       func() time.Time

	mu       sync.RWMutex
	lastHash string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	l *zap.Logger,
	readiness readinessSource,
	ledger ledger,
	builder paymentBuilder,
	signer signer.Signer,
	events publisher,
	cfg Config,
) *Orchestrator {
	if cfg.MaxSequenceRetries < 0 {
		cfg.MaxSequenceRetries = 0
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = DefaultRefreshDelay
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}

	return &Orchestrator{
		l:         l,
		readiness: readiness,
		ledger:    ledger,
		builder:   builder,
		signer:    signer,
		events:    events,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Buy pays item.Price of the native asset to item.Seller with memo BUY-<item.ID>.
// Preconditions are checked in order: ready, active address, not a self trade.
func (o *Orchestrator) Buy(ctx context.Context, item domain.Item) (result domain.PurchaseResult, err error) {
	defer func() { metrics.ObservePurchase(err) }()

	snap := o.readiness.Snapshot()
	if !snap.IsReady() {
		return domain.PurchaseResult{}, o.reject(item, domain.NewError(domain.KindNotReady, snap.State.String(), nil))
	}
	address := snap.Address
	if address == "" {
		return domain.PurchaseResult{}, o.reject(item, domain.NewError(domain.KindNoAccount, "", nil))
	}
	if item.Seller == address {
		return domain.PurchaseResult{}, o.reject(item, domain.NewError(domain.KindSelfTrade, "", nil))
	}

	order := domain.PendingOrder{
		OrderID:     item.ID,
		Destination: item.Seller,
		Amount:      item.Price,
		CreatedAt:   o.now(),
	}

	log := o.l.With(zap.String("order_id", order.OrderID), zap.String("seller", order.Destination))
	log.Info("submitting purchase", zap.String("amount", order.Amount.String()))
	o.publish(domain.StatusEvent{
		Source:  domain.SourcePurchase,
		State:   "submitting",
		Message: "Processing purchase of " + itemName(item) + "...",
		OrderID: order.OrderID,
	})

	r := retrier.New(
		retrier.WithMaxRetries(o.cfg.MaxSequenceRetries),
		retrier.WithInitialInterval(o.cfg.RetryInterval),
		retrier.WithJitter(0),
		retrier.WithRetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrStaleSequence)
		}),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			log.Warn("stale sequence, rebuilding purchase with a fresh account",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}),
	)

	res, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (domain.SubmitResult, error) {
		return o.submit(ctx, address, order)
	})
	if err != nil {
		log.Error("purchase failed", zap.String("kind", string(domain.KindOf(err))), zap.Error(err))
		return domain.PurchaseResult{}, o.reject(item, err)
	}

	o.mu.Lock()
	o.lastHash = res.Hash
	o.mu.Unlock()

	log.Info("purchase submitted", zap.String("hash", res.Hash), zap.Int32("ledger", res.Ledger))
	o.publish(domain.StatusEvent{
		Source:  domain.SourcePurchase,
		State:   "submitted",
		Message: "Purchase successful! Transaction " + res.Hash,
		OrderID: order.OrderID,
		TxHash:  res.Hash,
	})

	// reads right after a submit may not reflect the payment yet
	o.readiness.RefreshAfter(o.cfg.RefreshDelay)

	return domain.PurchaseResult{
		OrderID:     order.OrderID,
		Hash:        res.Hash,
		SubmittedAt: o.now(),
	}, nil
}

// LastTransactionHash returns the hash of the last successful purchase.
func (o *Orchestrator) LastTransactionHash() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastHash
}

func (o *Orchestrator) submit(ctx context.Context, address string, order domain.PendingOrder) (domain.SubmitResult, error) {
	account, err := o.ledger.LoadAccount(ctx, address)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	tx, err := o.builder.Payment(account, order)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	signed, err := o.signer.Sign(ctx, tx, address)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	return o.ledger.Submit(ctx, signed)
}

func (o *Orchestrator) reject(item domain.Item, err error) error {
	o.publish(domain.StatusEvent{
		Source:    domain.SourcePurchase,
		State:     "failed",
		Message:   domain.StatusMessage(err),
		OrderID:   item.ID,
		ErrorKind: string(domain.KindOf(err)),
	})
	return err
}

func (o *Orchestrator) publish(ev domain.StatusEvent) {
	if o.events == nil {
		return
	}
	ev.Timestamp = o.now()
	o.events.Publish(ev)
}

func itemName(item domain.Item) string {
	if item.Title != "" {
		return item.Title
	}
	return item.ID
}
