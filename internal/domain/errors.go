package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind classifies failures so callers can react without parsing text.
type ErrorKind string

const (
	KindNetwork             ErrorKind = "network"
	KindNotFound            ErrorKind = "not_found"
	KindRejected            ErrorKind = "rejected"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindStaleSequence       ErrorKind = "stale_sequence"
	KindSelfTrade           ErrorKind = "self_trade"
	KindNotReady            ErrorKind = "not_ready"
	KindNoAccount           ErrorKind = "no_account"
	KindSignerRejected      ErrorKind = "signer_rejected"
	KindSignerUnavailable   ErrorKind = "signer_unavailable"
	KindDecode              ErrorKind = "decode"
)

// ledger result codes with a dedicated kind
const (
	codeInsufficientBalance = "tx_insufficient_balance"
	codeBadSequence         = "tx_bad_seq"
	codeTxFailed            = "tx_failed"
	codeOpUnderfunded       = "op_underfunded"
)

// Error is a classified failure. Sentinels below match any Error of the same kind via errors.Is.
type Error struct {
	Kind ErrorKind
	// Code ledger transaction result code, if any.
	Code string
	// Operations ledger operation result codes, if any.
	Operations []string
	// Detail provider supplied description.
	Detail string
	Err    error
}

var (
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrRejected            = &Error{Kind: KindRejected}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrStaleSequence       = &Error{Kind: KindStaleSequence}
	ErrSelfTrade           = &Error{Kind: KindSelfTrade}
	ErrNotReady            = &Error{Kind: KindNotReady}
	ErrNoAccount           = &Error{Kind: KindNoAccount}
	ErrSignerRejected      = &Error{Kind: KindSignerRejected}
	ErrSignerUnavailable   = &Error{Kind: KindSignerUnavailable}
	ErrDecode              = &Error{Kind: KindDecode}
)

// NewError creates a classified error.
func NewError(kind ErrorKind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(e.Code)
		if len(e.Operations) > 0 {
			b.WriteString(": ")
			b.WriteString(strings.Join(e.Operations, ", "))
		}
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of a classified error, or an empty kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether re-invoking the same call may succeed
// without any user action.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindStaleSequence:
		return true
	default:
		return false
	}
}

// ClassifyRejection maps a structured ledger rejection to an error kind.
func ClassifyRejection(txCode string, opCodes []string, detail string, cause error) *Error {
	e := &Error{
		Kind:       KindRejected,
		Code:       txCode,
		Operations: opCodes,
		Detail:     detail,
		Err:        cause,
	}

	switch txCode {
	case codeInsufficientBalance:
		e.Kind = KindInsufficientBalance
	case codeBadSequence:
		e.Kind = KindStaleSequence
	case codeTxFailed:
		for _, op := range opCodes {
			if op == codeOpUnderfunded {
				e.Kind = KindInsufficientBalance
				break
			}
		}
		if e.Kind == KindRejected && len(opCodes) > 0 {
			e.Detail = fmt.Sprintf("transaction failed: %s", strings.Join(opCodes, ", "))
		}
	}

	return e
}

// StatusMessage renders a specific, user facing message for an error.
func StatusMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("Unexpected error: %s", err.Error())
	}

	switch e.Kind {
	case KindNotFound:
		return "Account not found. Fund the account (e.g. with Friendbot) before trading."
	case KindNetwork:
		return fmt.Sprintf("Network error: %s. Check your connection.", detailOf(e, "ledger service unreachable"))
	case KindInsufficientBalance:
		return "Insufficient XLM balance to complete the purchase."
	case KindStaleSequence:
		return "Sequence number error. Please try again."
	case KindSelfTrade:
		return "You can't buy data from yourself!"
	case KindNotReady:
		return "Marketplace not ready. Please wait for connection or check errors."
	case KindNoAccount:
		return "No active account. Please connect your wallet first."
	case KindSignerRejected:
		return "Signature request was rejected."
	case KindSignerUnavailable:
		return fmt.Sprintf("Signer unavailable: %s.", detailOf(e, "no signer for this account"))
	case KindDecode:
		return "Malformed ledger payload."
	default:
		return fmt.Sprintf("Transaction rejected: %s.", detailOf(e, "transaction submission failed"))
	}
}

func detailOf(e *Error, fallback string) string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fallback
}
