// Package txbuilder assembles unsigned ledger transactions for the engine.
package txbuilder

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/txnbuild"

	"github.com/vadiminshakov/datex/internal/domain"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultTrustLimit = "1000000000"
	// amounts on the ledger carry at most 7 decimal places
	maxAmountPlaces = 7
)

// ErrInvalidOrder is returned for orders that can never produce a valid payment.
var ErrInvalidOrder = errors.New("invalid order")

// Config holds transaction construction parameters.
type Config struct {
	// BaseFee per operation in stroops.
	BaseFee int64
	// Timeout bounds the validity window of every built transaction.
	Timeout time.Duration
	// TrustLimit caps the custom asset trust line.
	TrustLimit string
}

// Builder creates unsigned transactions. It holds no keys and performs no I/O.
type Builder struct {
	baseFee    int64
	timeout    time.Duration
	trustLimit string
}

// New validates cfg and creates a Builder.
func New(cfg Config) (*Builder, error) {
	if cfg.BaseFee <= 0 {
		cfg.BaseFee = txnbuild.MinBaseFee
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TrustLimit == "" {
		cfg.TrustLimit = DefaultTrustLimit
	}
	// zero seconds means no expiry on the ledger
	if cfg.Timeout < time.Second {
		return nil, errors.Errorf("transaction timeout must be at least 1s, got %s", cfg.Timeout)
	}

	limit, err := decimal.NewFromString(cfg.TrustLimit)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid trust limit %q", cfg.TrustLimit)
	}
	if !limit.IsPositive() {
		return nil, errors.Errorf("trust limit must be positive, got %s", cfg.TrustLimit)
	}

	return &Builder{
		baseFee:    cfg.BaseFee,
		timeout:    cfg.Timeout,
		trustLimit: limit.String(),
	}, nil
}

// ChangeTrust builds a transaction that opens a trust line from source to asset.
func (b *Builder) ChangeTrust(source domain.Account, asset domain.Asset) (*txnbuild.Transaction, error) {
	if asset.IsNative() {
		return nil, errors.New("native asset needs no trust line")
	}

	line, err := txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer}.ToChangeTrustAsset()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid asset %s", asset)
	}

	return b.build(source, &txnbuild.ChangeTrust{
		Line:  line,
		Limit: b.trustLimit,
	}, nil)
}

// Payment builds a native payment for order, tagged with the order memo.
func (b *Builder) Payment(source domain.Account, order domain.PendingOrder) (*txnbuild.Transaction, error) {
	if order.Destination == "" {
		return nil, errors.Wrap(ErrInvalidOrder, "destination is required")
	}
	if !order.Amount.IsPositive() {
		return nil, errors.Wrapf(ErrInvalidOrder, "amount must be positive, got %s", order.Amount)
	}
	if !order.Amount.Equal(order.Amount.Truncate(maxAmountPlaces)) {
		return nil, errors.Wrapf(ErrInvalidOrder, "amount %s has more than %d decimal places", order.Amount, maxAmountPlaces)
	}
	if _, ok := domain.ParsePurchaseMemo(order.Memo()); !ok {
		return nil, errors.Wrap(ErrInvalidOrder, "order id is required")
	}
	if len(order.Memo()) > domain.MaxMemoTextLength {
		return nil, errors.Wrapf(ErrInvalidOrder, "memo %q exceeds %d bytes", order.Memo(), domain.MaxMemoTextLength)
	}

	return b.build(source, &txnbuild.Payment{
		Destination: order.Destination,
		Amount:      order.Amount.String(),
		Asset:       txnbuild.NativeAsset{},
	}, txnbuild.MemoText(order.Memo()))
}

func (b *Builder) build(source domain.Account, op txnbuild.Operation, memo txnbuild.Memo) (*txnbuild.Transaction, error) {
	if source.Address == "" {
		return nil, errors.New("source account is required")
	}

	params := txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: source.Address, Sequence: source.Sequence},
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              b.baseFee,
		Memo:                 memo,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(int64(b.timeout / time.Second))},
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build transaction")
	}

	return tx, nil
}
