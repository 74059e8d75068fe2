// Package signer holds the signing boundary. Keys never reach the engine core,
// which only sees the Signer interface.
package signer

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/txnbuild"

	"github.com/vadiminshakov/datex/internal/domain"
)

// Signer returns tx signed on behalf of address, or fails with a
// signer_rejected or signer_unavailable error.
type Signer interface {
	Sign(ctx context.Context, tx *txnbuild.Transaction, address string) (*txnbuild.Transaction, error)
}

// KeypairSigner signs with a locally held secret seed. It is an operations
// adapter wired at the process edge.
type KeypairSigner struct {
	kp         *keypair.Full
	passphrase string
}

// NewKeypairSigner parses secret and binds it to a network passphrase.
func NewKeypairSigner(secret, passphrase string) (*KeypairSigner, error) {
	if passphrase == "" {
		return nil, errors.New("network passphrase is required")
	}
	kp, err := keypair.ParseFull(strings.TrimSpace(secret))
	if err != nil {
		return nil, errors.Wrap(err, "invalid signer secret")
	}

	return &KeypairSigner{kp: kp, passphrase: passphrase}, nil
}

// Address returns the public address of the held key.
func (s *KeypairSigner) Address() string {
	return s.kp.Address()
}

func (s *KeypairSigner) Sign(ctx context.Context, tx *txnbuild.Transaction, address string) (*txnbuild.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.New("transaction is nil")
	}
	if address != s.kp.Address() {
		return nil, domain.NewError(domain.KindSignerUnavailable, fmt.Sprintf("no key held for %s", address), nil)
	}

	signed, err := tx.Sign(s.passphrase, s.kp)
	if err != nil {
		return nil, domain.NewError(domain.KindSignerUnavailable, "signing failed", err)
	}

	return signed, nil
}

// Unavailable is a Signer for read-only sessions: every request fails.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Sign(context.Context, *txnbuild.Transaction, string) (*txnbuild.Transaction, error) {
	reason := u.Reason
	if reason == "" {
		reason = "no signer configured"
	}
	return nil, domain.NewError(domain.KindSignerUnavailable, reason, nil)
}

// Describe renders a short human summary of the operations in tx.
func Describe(tx *txnbuild.Transaction) string {
	if tx == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n", tx.SourceAccount().AccountID)
	for _, op := range tx.Operations() {
		switch o := op.(type) {
		case *txnbuild.Payment:
			fmt.Fprintf(&b, "Payment: %s %s to %s\n", o.Amount, assetName(o.Asset), o.Destination)
		case *txnbuild.ChangeTrust:
			fmt.Fprintf(&b, "Trustline: %s:%s limit %s\n", o.Line.GetCode(), o.Line.GetIssuer(), o.Limit)
		default:
			fmt.Fprintf(&b, "Operation: %T\n", op)
		}
	}
	if memo, ok := tx.Memo().(txnbuild.MemoText); ok && memo != "" {
		fmt.Fprintf(&b, "Memo: %s\n", string(memo))
	}

	return strings.TrimRight(b.String(), "\n")
}

func assetName(a txnbuild.Asset) string {
	if a == nil || a.IsNative() {
		return "XLM"
	}
	return a.GetCode()
}
