package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/datex/internal/clients"
	"github.com/vadiminshakov/datex/internal/domain"
)

const accountJSON = `{
  "id": "%[1]s",
  "account_id": "%[1]s",
  "sequence": "4294967296",
  "subentry_count": 1,
  "balances": [
    {"balance": "120.0000000", "asset_type": "native"},
    {"balance": "5.5000000", "limit": "1000000000.0000000", "asset_type": "credit_alphanum4", "asset_code": "DATA", "asset_issuer": "%[1]s"}
  ]
}`

const notFoundJSON = `{
  "type": "https://stellar.org/horizon-errors/not_found",
  "title": "Resource Missing",
  "status": 404,
  "detail": "The resource at the url requested was not found."
}`

const badSeqJSON = `{
  "type": "https://stellar.org/horizon-errors/transaction_failed",
  "title": "Transaction Failed",
  "status": 400,
  "detail": "The transaction failed when submitted to the stellar network.",
  "extras": {
    "envelope_xdr": "",
    "result_codes": {"transaction": "tx_bad_seq"}
  }
}`

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Horizon {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := clients.NewHorizonClient(srv.URL, 0)
	return NewHorizon(client, nil, 0)
}

func TestHorizon_LoadAccount(t *testing.T) {
	address := keypair.MustRandom().Address()

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts/"+address, r.URL.Path)
		w.Header().Set("Content-Type", "application/hal+json")
		fmt.Fprintf(w, accountJSON, address)
	})

	account, err := g.LoadAccount(context.Background(), address)
	require.NoError(t, err)

	assert.Equal(t, address, account.Address)
	assert.Equal(t, int64(4294967296), account.Sequence)
	require.Len(t, account.Balances, 2)

	native, ok := account.BalanceOf(domain.NativeAsset())
	require.True(t, ok)
	assert.True(t, native.Equal(decimal.NewFromInt(120)))
	assert.True(t, account.HasTrustline(domain.NewCustomAsset(domain.DataAssetCode, address)))
}

func TestHorizon_LoadAccountNotFound(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, notFoundJSON)
	})

	_, err := g.LoadAccount(context.Background(), keypair.MustRandom().Address())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestHorizon_LoadAccountTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	g := NewHorizon(clients.NewHorizonClient(srv.URL, 0), nil, 0)

	_, err := g.LoadAccount(context.Background(), keypair.MustRandom().Address())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNetwork))
}

func TestHorizon_SubmitClassifiesRejection(t *testing.T) {
	source := keypair.MustRandom()

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/transactions"))
		require.NoError(t, r.ParseForm())
		require.NotEmpty(t, r.PostForm.Get("tx"))

		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, badSeqJSON)
	})

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: source.Address(), Sequence: 1},
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{&txnbuild.Payment{
			Destination: keypair.MustRandom().Address(),
			Amount:      "50.00",
			Asset:       txnbuild.NativeAsset{},
		}},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(30)},
	})
	require.NoError(t, err)

	_, err = g.Submit(context.Background(), tx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStaleSequence))
	assert.Equal(t, domain.KindStaleSequence, domain.KindOf(err))
}

func TestHorizon_SubmitSuccess(t *testing.T) {
	source := keypair.MustRandom()

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/hal+json")
		fmt.Fprint(w, `{"hash": "abcd1234", "ledger": 77, "successful": true}`)
	})

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: source.Address(), Sequence: 1},
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{&txnbuild.Payment{
			Destination: keypair.MustRandom().Address(),
			Amount:      "1",
			Asset:       txnbuild.NativeAsset{},
		}},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(30)},
	})
	require.NoError(t, err)

	res, err := g.Submit(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", res.Hash)
	assert.Equal(t, int32(77), res.Ledger)
}

func TestHorizon_CanceledContextSkipsRequest(t *testing.T) {
	called := false
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.LoadAccount(ctx, keypair.MustRandom().Address())
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestHorizon_StreamErrSettledWhenRecordsClose(t *testing.T) {
	address := keypair.MustRandom().Address()

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts/"+address+"/transactions", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	stream, err := g.OpenStream(context.Background(), address, "now")
	require.NoError(t, err)
	defer stream.Close()

	for range stream.Records() {
		t.Fatal("unexpected record")
	}

	streamErr := stream.Err()
	require.Error(t, streamErr)
	assert.Equal(t, domain.KindNetwork, domain.KindOf(streamErr))
	assert.Contains(t, streamErr.Error(), "503")
}
