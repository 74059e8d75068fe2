package purchase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/internal/domain"
	"github.com/vadiminshakov/datex/internal/events"
	"github.com/vadiminshakov/datex/internal/services/txbuilder"
	gatewayMock "github.com/vadiminshakov/datex/mocks/gateway"
	signerMock "github.com/vadiminshakov/datex/mocks/signer"
)

type fakeReadiness struct {
	mu        sync.Mutex
	snapshot  domain.Readiness
	refreshes []time.Duration
}

func (f *fakeReadiness) Snapshot() domain.Readiness {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeReadiness) RefreshAfter(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, d)
}

func ready(address string) *fakeReadiness {
	return &fakeReadiness{snapshot: domain.Readiness{State: domain.StateReady, Address: address}}
}

func passThrough(_ context.Context, tx *txnbuild.Transaction, _ string) (*txnbuild.Transaction, error) {
	return tx, nil
}

type fixture struct {
	readiness *fakeReadiness
	ledger    *gatewayMock.LedgerGateway
	signer    *signerMock.Signer
	events    chan domain.StatusEvent
}

func newOrchestrator(t *testing.T, readiness *fakeReadiness, cfg Config) (*Orchestrator, fixture) {
	t.Helper()

	b, err := txbuilder.New(txbuilder.Config{})
	require.NoError(t, err)

	bus := events.NewStatusBroadcaster(32)
	f := fixture{
		readiness: readiness,
		ledger:    gatewayMock.NewLedgerGateway(t),
		signer:    signerMock.NewSigner(t),
		events:    bus.Subscribe(),
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Millisecond
	}

	return NewOrchestrator(zap.NewNop(), readiness, f.ledger, b, f.signer, bus, cfg), f
}

func account(address string, seq int64) domain.Account {
	return domain.Account{
		Address:  address,
		Sequence: seq,
		Balances: []domain.Balance{{Asset: domain.NativeAsset(), Amount: decimal.RequireFromString("120.00")}},
	}
}

func item(seller string) domain.Item {
	return domain.Item{ID: "A1B2C3D4", Title: "Weather dataset", Seller: seller, Price: decimal.RequireFromString("50.00")}
}

func TestOrchestrator_Buy(t *testing.T) {
	buyer := keypair.MustRandom().Address()
	seller := keypair.MustRandom().Address()
	o, f := newOrchestrator(t, ready(buyer), Config{RefreshDelay: 2 * time.Second})

	f.ledger.On("LoadAccount", mock.Anything, buyer).Return(account(buyer, 41), nil).Once()
	f.signer.On("Sign", mock.Anything, mock.Anything, buyer).Return(passThrough).Once()
	f.ledger.On("Submit", mock.Anything, mock.MatchedBy(func(tx *txnbuild.Transaction) bool {
		payment, ok := tx.Operations()[0].(*txnbuild.Payment)
		return ok &&
			payment.Destination == seller &&
			tx.Memo() == txnbuild.MemoText("BUY-A1B2C3D4") &&
			tx.SourceAccount().Sequence == 42
	})).Return(domain.SubmitResult{Hash: "abcd1234ef", Ledger: 7}, nil).Once()

	res, err := o.Buy(context.Background(), item(seller))
	require.NoError(t, err)

	assert.Equal(t, "A1B2C3D4", res.OrderID)
	assert.Equal(t, "abcd1234ef", res.Hash)
	assert.Equal(t, "abcd1234ef", o.LastTransactionHash())
	assert.Equal(t, []time.Duration{2 * time.Second}, f.readiness.refreshes)

	var last domain.StatusEvent
	for len(f.events) > 0 {
		last = <-f.events
	}
	assert.Equal(t, "abcd1234ef", last.TxHash)
	assert.Equal(t, domain.SourcePurchase, last.Source)
}

func TestOrchestrator_RejectsSelfTrade(t *testing.T) {
	buyer := keypair.MustRandom().Address()
	o, f := newOrchestrator(t, ready(buyer), Config{})

	_, err := o.Buy(context.Background(), item(buyer))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSelfTrade))

	f.ledger.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	f.ledger.AssertNotCalled(t, "LoadAccount", mock.Anything, mock.Anything)
	assert.Empty(t, f.readiness.refreshes)
	assert.Equal(t, "You can't buy data from yourself!", (<-f.events).Message)
}

func TestOrchestrator_RefusesWhenNotReady(t *testing.T) {
	buyer := keypair.MustRandom().Address()
	seller := keypair.MustRandom().Address()

	for _, state := range []domain.ReadinessState{
		domain.StateUninitialized,
		domain.StateLoading,
		domain.StateAwaitingTrustline,
		domain.StateProvisioningTrustline,
		domain.StateFailed,
	} {
		t.Run(state.String(), func(t *testing.T) {
			readiness := &fakeReadiness{snapshot: domain.Readiness{State: state, Address: buyer}}
			o, f := newOrchestrator(t, readiness, Config{})

			_, err := o.Buy(context.Background(), item(seller))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrNotReady))
			f.ledger.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
		})
	}
}

func TestOrchestrator_NotReadyCheckedBeforeSelfTrade(t *testing.T) {
	buyer := keypair.MustRandom().Address()
	o, _ := newOrchestrator(t, &fakeReadiness{snapshot: domain.Readiness{State: domain.StateLoading, Address: buyer}}, Config{})

	_, err := o.Buy(context.Background(), item(buyer))
	assert.True(t, errors.Is(err, domain.ErrNotReady))
}

func TestOrchestrator_NoActiveAddress(t *testing.T) {
	o, _ := newOrchestrator(t, ready(""), Config{})

	_, err := o.Buy(context.Background(), item(keypair.MustRandom().Address()))
	assert.True(t, errors.Is(err, domain.ErrNoAccount))
}

func TestOrchestrator_RetriesStaleSequence(t *testing.T) {
	buyer := keypair.MustRandom().Address()
	seller := keypair.MustRandom().Address()
	o, f := newOrchestrator(t, ready(buyer), Config{MaxSequenceRetries: 1})

	f.ledger.On("LoadAccount", mock.Anything, buyer).Return(account(buyer, 10), nil).Once()
	f.ledger.On("LoadAccount", mock.Anything, buyer).Return(account(buyer, 11), nil).Once()
	f.signer.On("Sign", mock.Anything, mock.Anything, buyer).Return(passThrough).Twice()
	f.ledger.On("Submit", mock.Anything, mock.MatchedBy(func(tx *txnbuild.Transaction) bool {
		return tx.SourceAccount().Sequence == 11
	})).Return(domain.SubmitResult{}, domain.ClassifyRejection("tx_bad_seq", nil, "", nil)).Once()
	f.ledger.On("Submit", mock.Anything, mock.MatchedBy(func(tx *txnbuild.Transaction) bool {
		return tx.SourceAccount().Sequence == 12
	})).Return(domain.SubmitResult{Hash: "abcd1234"}, nil).Once()

	res, err := o.Buy(context.Background(), item(seller))
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", res.Hash)
}

func TestOrchestrator_StaleSequenceExhausted(t *testing.T) {
	buyer := keypair.MustRandom().Address()
	seller := keypair.MustRandom().Address()
	o, f := newOrchestrator(t, ready(buyer), Config{MaxSequenceRetries: 1})

	f.ledger.On("LoadAccount", mock.Anything, buyer).Return(account(buyer, 10), nil).Twice()
	f.signer.On("Sign", mock.Anything, mock.Anything, buyer).Return(passThrough).Twice()
	f.ledger.On("Submit", mock.Anything, mock.Anything).
		Return(domain.SubmitResult{}, domain.ClassifyRejection("tx_bad_seq", nil, "", nil)).Twice()

	_, err := o.Buy(context.Background(), item(seller))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStaleSequence))
	assert.Empty(t, o.LastTransactionHash())
	assert.Empty(t, f.readiness.refreshes)
}

func TestOrchestrator_TerminalRejections(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{name: "insufficient balance", err: domain.ClassifyRejection("tx_insufficient_balance", nil, "", nil), target: domain.ErrInsufficientBalance},
		{name: "underfunded", err: domain.ClassifyRejection("tx_failed", []string{"op_underfunded"}, "", nil), target: domain.ErrInsufficientBalance},
		{name: "generic", err: domain.ClassifyRejection("tx_failed", []string{"op_no_destination"}, "", nil), target: domain.ErrRejected},
		{name: "network", err: domain.NewError(domain.KindNetwork, "timeout", nil), target: domain.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buyer := keypair.MustRandom().Address()
			o, f := newOrchestrator(t, ready(buyer), Config{MaxSequenceRetries: 3})

			f.ledger.On("LoadAccount", mock.Anything, buyer).Return(account(buyer, 10), nil).Once()
			f.signer.On("Sign", mock.Anything, mock.Anything, buyer).Return(passThrough).Once()
			f.ledger.On("Submit", mock.Anything, mock.Anything).Return(domain.SubmitResult{}, tt.err).Once()

			_, err := o.Buy(context.Background(), item(keypair.MustRandom().Address()))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target))
		})
	}
}

func TestOrchestrator_SignerRejected(t *testing.T) {
	buyer := keypair.MustRandom().Address()
	o, f := newOrchestrator(t, ready(buyer), Config{})

	f.ledger.On("LoadAccount", mock.Anything, buyer).Return(account(buyer, 10), nil).Once()
	f.signer.On("Sign", mock.Anything, mock.Anything, buyer).
		Return(nil, domain.NewError(domain.KindSignerRejected, "", nil)).Once()

	_, err := o.Buy(context.Background(), item(keypair.MustRandom().Address()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSignerRejected))
	f.ledger.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}
