package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRejection(t *testing.T) {
	tests := []struct {
		name         string
		txCode       string
		opCodes      []string
		expectedKind ErrorKind
		sentinel     error
	}{
		{
			name:         "insufficient balance",
			txCode:       "tx_insufficient_balance",
			expectedKind: KindInsufficientBalance,
			sentinel:     ErrInsufficientBalance,
		},
		{
			name:         "bad sequence",
			txCode:       "tx_bad_seq",
			expectedKind: KindStaleSequence,
			sentinel:     ErrStaleSequence,
		},
		{
			name:         "underfunded payment operation",
			txCode:       "tx_failed",
			opCodes:      []string{"op_underfunded"},
			expectedKind: KindInsufficientBalance,
			sentinel:     ErrInsufficientBalance,
		},
		{
			name:         "other failed operation",
			txCode:       "tx_failed",
			opCodes:      []string{"op_no_destination"},
			expectedKind: KindRejected,
			sentinel:     ErrRejected,
		},
		{
			name:         "unknown code",
			txCode:       "tx_too_late",
			expectedKind: KindRejected,
			sentinel:     ErrRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyRejection(tt.txCode, tt.opCodes, "", nil)
			assert.Equal(t, tt.expectedKind, err.Kind)
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.Equal(t, tt.expectedKind, KindOf(errors.Wrap(err, "failed to submit")))
		})
	}
}

func TestClassifyRejection_FailedOperationsDetail(t *testing.T) {
	err := ClassifyRejection("tx_failed", []string{"op_no_trust", "op_line_full"}, "", nil)
	require.Equal(t, KindRejected, err.Kind)
	assert.Equal(t, "transaction failed: op_no_trust, op_line_full", err.Detail)
	assert.Contains(t, StatusMessage(err), "op_no_trust")
}

func TestError_IsDoesNotCrossKinds(t *testing.T) {
	err := NewError(KindNotFound, "account missing", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.False(t, Retryable(err))
	assert.True(t, Retryable(NewError(KindNetwork, "", errors.New("timeout"))))
}

func TestStatusMessage_DistinguishesKinds(t *testing.T) {
	kinds := []ErrorKind{
		KindNotFound,
		KindNetwork,
		KindInsufficientBalance,
		KindStaleSequence,
		KindSelfTrade,
		KindRejected,
	}

	seen := make(map[string]ErrorKind)
	for _, kind := range kinds {
		msg := StatusMessage(NewError(kind, "", nil))
		require.NotEmpty(t, msg)
		prev, dup := seen[msg]
		require.False(t, dup, "kinds %s and %s share a status message", prev, kind)
		seen[msg] = kind
	}

	assert.Contains(t, StatusMessage(ErrNotFound), "Fund")
	assert.Empty(t, StatusMessage(nil))
}
