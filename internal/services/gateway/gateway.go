// Package gateway adapts the Horizon ledger service to the engine's domain types.
// Calls are never retried here; callers own the retry policy.
package gateway

import (
	"context"

	"github.com/stellar/go-stellar-sdk/txnbuild"

	"github.com/vadiminshakov/datex/internal/domain"
)

// LedgerGateway loads accounts, submits transactions and opens transaction streams.
type LedgerGateway interface {
	Available(ctx context.Context) error
	LoadAccount(ctx context.Context, address string) (domain.Account, error)
	Submit(ctx context.Context, tx *txnbuild.Transaction) (domain.SubmitResult, error)
	OpenStream(ctx context.Context, address, cursor string) (Stream, error)
}

// Stream is a lazy, unbounded, non-restartable sequence of transaction records.
// Records is closed when the stream ends; Err reports why.
type Stream interface {
	Records() <-chan domain.TransactionRecord
	Err() error
	Close() error
}

// CursorNow starts a stream at the current ledger position, skipping history.
const CursorNow = "now"

var _ LedgerGateway = (*Horizon)(nil)
