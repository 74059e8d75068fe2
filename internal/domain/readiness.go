package domain

import (
	"time"

	"github.com/pkg/errors"
)

// ReadinessState is the position of the account in the readiness state machine.
type ReadinessState int

const (
	StateUninitialized ReadinessState = iota
	StateLoading
	StateAwaitingTrustline
	StateProvisioningTrustline
	StateReady
	StateFailed
)

// String returns the string representation of the state.
func (s ReadinessState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateAwaitingTrustline:
		return "awaiting_trustline"
	case StateProvisioningTrustline:
		return "provisioning_trustline"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s ReadinessState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *ReadinessState) UnmarshalText(text []byte) error {
	for st := StateUninitialized; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return errors.Errorf("unknown readiness state %q", text)
}

// Readiness is a published snapshot of the reconciler state.
type Readiness struct {
	State  ReadinessState
	Status string
	// Err failure cause when State is StateFailed.
	Err       error
	Address   string
	Asset     Asset
	Account   *Account
	UpdatedAt time.Time
}

// IsReady reports whether purchase and sale actions may run.
func (r Readiness) IsReady() bool {
	return r.State == StateReady
}
