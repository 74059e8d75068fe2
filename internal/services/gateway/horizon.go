package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	hProtocol "github.com/stellar/go-stellar-sdk/protocols/horizon"
	"github.com/stellar/go-stellar-sdk/txnbuild"
	"go.uber.org/ratelimit"

	"github.com/vadiminshakov/datex/internal/domain"
)

const defaultStreamBuffer = 64

// horizon asset types
const (
	assetTypeNative         = "native"
	assetTypeCreditAlphanum = "credit_alphanum"
	assetTypePoolShares     = "liquidity_pool_shares"
)

// Horizon is the LedgerGateway backed by a Horizon server.
type Horizon struct {
	client       *horizonclient.Client
	streamClient *horizonclient.Client
	limiter      ratelimit.Limiter
	streamBuffer int
}

// NewHorizon creates a gateway. rps limits outgoing requests, zero or less disables the limit.
func NewHorizon(client, streamClient *horizonclient.Client, rps int) *Horizon {
	limiter := ratelimit.NewUnlimited()
	if rps > 0 {
		limiter = ratelimit.New(rps)
	}
	if streamClient == nil {
		streamClient = client
	}

	return &Horizon{
		client:       client,
		streamClient: streamClient,
		limiter:      limiter,
		streamBuffer: defaultStreamBuffer,
	}
}

// Available probes the Horizon root endpoint.
func (g *Horizon) Available(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.limiter.Take()

	if _, err := g.client.Root(); err != nil {
		return domain.NewError(domain.KindNetwork, "horizon is unavailable", err)
	}
	return nil
}

// LoadAccount fetches the account and its balances.
func (g *Horizon) LoadAccount(ctx context.Context, address string) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	g.limiter.Take()

	account, err := g.client.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		return domain.Account{}, classifyError(err)
	}

	return toAccount(account)
}

// Submit posts a signed transaction envelope.
func (g *Horizon) Submit(ctx context.Context, tx *txnbuild.Transaction) (domain.SubmitResult, error) {
	if tx == nil {
		return domain.SubmitResult{}, errors.New("transaction is nil")
	}
	if err := ctx.Err(); err != nil {
		return domain.SubmitResult{}, err
	}

	envelope, err := tx.Base64()
	if err != nil {
		return domain.SubmitResult{}, errors.Wrap(err, "failed to encode transaction envelope")
	}

	g.limiter.Take()

	resp, err := g.client.SubmitTransactionXDR(envelope)
	if err != nil {
		return domain.SubmitResult{}, classifyError(err)
	}

	return domain.SubmitResult{Hash: resp.Hash, Ledger: resp.Ledger}, nil
}

// OpenStream subscribes to transactions of address starting at cursor.
//
// horizonclient transparently reopens the connection when Horizon closes an
// idle stream with EOF, resuming at the last event id. That is the only
// reconnect below this layer: any HTTP or decode failure ends the stream, Err
// reports it and the caller decides whether to open a new one.
func (g *Horizon) OpenStream(ctx context.Context, address, cursor string) (Stream, error) {
	if address == "" {
		return nil, errors.New("stream address is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.limiter.Take()

	streamCtx, cancel := context.WithCancel(ctx)
	s := &horizonStream{
		records: make(chan domain.TransactionRecord, g.streamBuffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	request := horizonclient.TransactionRequest{ForAccount: address, Cursor: cursor}
	go func() {
		// done closes first so Err is settled once Records is drained
		defer func() {
			close(s.done)
			close(s.records)
		}()

		err := g.streamClient.StreamTransactions(streamCtx, request, func(tx hProtocol.Transaction) {
			select {
			case s.records <- toRecord(tx):
			case <-streamCtx.Done():
			}
		})
		if err != nil && streamCtx.Err() == nil {
			s.err = classifyError(err)
		}
	}()

	return s, nil
}

type horizonStream struct {
	records chan domain.TransactionRecord
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func (s *horizonStream) Records() <-chan domain.TransactionRecord {
	return s.records
}

func (s *horizonStream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close cancels the subscription and waits for the reader to exit. Safe to call twice.
func (s *horizonStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func toRecord(tx hProtocol.Transaction) domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:          tx.ID,
		Hash:        tx.Hash,
		PagingToken: tx.PagingToken(),
		MemoType:    tx.MemoType,
		Memo:        tx.Memo,
		MemoBytes:   tx.MemoBytes,
		Successful:  tx.Successful,
	}
}

func toAccount(account hProtocol.Account) (domain.Account, error) {
	sequence, err := account.GetSequenceNumber()
	if err != nil {
		return domain.Account{}, domain.NewError(domain.KindDecode, "invalid account sequence", err)
	}

	balances := make([]domain.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		var asset domain.Asset
		switch {
		case b.Type == assetTypeNative:
			asset = domain.NativeAsset()
		case b.Type == assetTypePoolShares:
			continue
		case strings.HasPrefix(b.Type, assetTypeCreditAlphanum):
			asset = domain.NewCustomAsset(b.Code, b.Issuer)
		default:
			continue
		}

		amount, err := decimal.NewFromString(b.Balance)
		if err != nil {
			return domain.Account{}, domain.NewError(domain.KindDecode, "invalid balance amount for "+asset.String(), err)
		}

		for _, existing := range balances {
			if existing.Asset.Equal(asset) {
				return domain.Account{}, domain.NewError(domain.KindDecode, "duplicate balance for "+asset.String(), nil)
			}
		}

		balances = append(balances, domain.Balance{Asset: asset, Amount: amount})
	}

	return domain.Account{
		Address:  account.AccountID,
		Sequence: sequence,
		Balances: balances,
	}, nil
}

// classifyError translates horizon client failures into the domain taxonomy.
func classifyError(err error) error {
	hErr := horizonclient.GetError(err)
	if hErr == nil {
		return domain.NewError(domain.KindNetwork, "", err)
	}

	status := hErr.Problem.Status
	if status == 0 && hErr.Response != nil {
		status = hErr.Response.StatusCode
	}

	detail := hErr.Problem.Detail
	if detail == "" {
		detail = hErr.Problem.Title
	}

	if status == http.StatusNotFound {
		return domain.NewError(domain.KindNotFound, detail, err)
	}

	if codes, codesErr := hErr.ResultCodes(); codesErr == nil && codes != nil && codes.TransactionCode != "" {
		return domain.ClassifyRejection(codes.TransactionCode, codes.OperationCodes, detail, err)
	}

	if status >= http.StatusBadRequest && status < http.StatusInternalServerError && status != http.StatusTooManyRequests {
		return domain.NewError(domain.KindRejected, detail, err)
	}

	return domain.NewError(domain.KindNetwork, detail, err)
}
