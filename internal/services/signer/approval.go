package signer

import (
	"context"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/stellar/go-stellar-sdk/txnbuild"

	"github.com/vadiminshakov/datex/internal/domain"
)

var summaryStyle = lipgloss.NewStyle().
	Border(lipgloss.NormalBorder()).
	Padding(0, 1)

// Prompt asks a human to approve a signature request.
type Prompt func(ctx context.Context, summary string) (bool, error)

// ApprovalSigner asks for confirmation before delegating to the wrapped signer.
// Prompts are serialized.
type ApprovalSigner struct {
	mu     sync.Mutex
	next   Signer
	prompt Prompt
}

// NewApprovalSigner wraps next. A nil prompt uses the terminal.
func NewApprovalSigner(next Signer, prompt Prompt) *ApprovalSigner {
	if prompt == nil {
		prompt = TerminalPrompt
	}
	return &ApprovalSigner{next: next, prompt: prompt}
}

func (s *ApprovalSigner) Sign(ctx context.Context, tx *txnbuild.Transaction, address string) (*txnbuild.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	approved, err := s.prompt(ctx, Describe(tx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, domain.NewError(domain.KindSignerRejected, "signature request aborted", nil)
		}
		return nil, domain.NewError(domain.KindSignerUnavailable, "approval prompt failed", err)
	}
	if !approved {
		return nil, domain.NewError(domain.KindSignerRejected, "signature request rejected", nil)
	}

	return s.next.Sign(ctx, tx, address)
}

// TerminalPrompt renders the request summary and asks for confirmation.
func TerminalPrompt(ctx context.Context, summary string) (bool, error) {
	var approve bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Signature request").
				Description(summaryStyle.Render(summary)),
			huh.NewConfirm().
				Title("Sign this transaction?").
				Affirmative("Sign").
				Negative("Reject").
				Value(&approve),
		),
	).RunWithContext(ctx)
	if err != nil {
		return false, err
	}

	return approve, nil
}
