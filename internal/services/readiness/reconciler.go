// Package readiness drives the account readiness state machine: wait for the
// ledger service, load the account, detect the custom asset trust line and
// provision it when the policy allows.
package readiness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/stellar/go-stellar-sdk/txnbuild"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/internal/domain"
	"github.com/vadiminshakov/datex/internal/metrics"
	"github.com/vadiminshakov/datex/internal/services/signer"
)

// Policy selects how a missing trust line is handled.
type Policy string

const (
	// PolicyAuto builds, signs and submits the trust line without user action.
	PolicyAuto Policy = "auto"
	// PolicyExternal waits for the trust line to be created elsewhere.
	PolicyExternal Policy = "external"
)

// ParsePolicy validates a policy name. Empty means PolicyAuto.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAuto:
		return PolicyAuto, nil
	case PolicyExternal:
		return PolicyExternal, nil
	default:
		return "", errors.Errorf("unknown trustline policy %q", s)
	}
}

var (
	// ErrReconcileInProgress is returned when a pass is already running.
	// The running pass re-runs once after it finishes.
	ErrReconcileInProgress = errors.New("reconciliation already in progress")
	// ErrSessionChanged is returned when the session was replaced or reset mid-pass.
	ErrSessionChanged = errors.New("session changed during reconciliation")
)

type ledger interface {
	LoadAccount(ctx context.Context, address string) (domain.Account, error)
	Submit(ctx context.Context, tx *txnbuild.Transaction) (domain.SubmitResult, error)
}

type availability interface {
	Wait(ctx context.Context) error
}

type trustBuilder interface {
	ChangeTrust(source domain.Account, asset domain.Asset) (*txnbuild.Transaction, error)
}

type publisher interface {
	Publish(domain.StatusEvent)
}

// Config tunes the reconciler.
type Config struct {
	Policy Policy
	// SettleDelay before re-reading the account after a provisioning submit.
	SettleDelay time.Duration
}

// Reconciler is the single owner of the readiness state of the active session.
type Reconciler struct {
	l        *zap.Logger
	ledger   ledger
	broker   availability
	builder  trustBuilder
	signer   signer.Signer
	events   publisher
	policy   Policy
	settle   time.Duration
	now      func() time.Time

	mu            sync.Mutex
	session       *domain.Session
	generation    uint64
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	passCancel    context.CancelFunc
	refreshTimer  *time.Timer
	running       bool
	rerun         bool
	snapshot      domain.Readiness
}

// NewReconciler creates a reconciler in the Uninitialized state without a session.
func NewReconciler(
	l *zap.Logger,
	ledger ledger,
	broker availability,
	builder trustBuilder,
	signer signer.Signer,
	events publisher,
	cfg Config,
) *Reconciler {
	if cfg.Policy == "" {
		cfg.Policy = PolicyAuto
	}

	r := &Reconciler{
		l:       l,
		ledger:  ledger,
		broker:  broker,
		builder: builder,
		signer:  signer,
		events:  events,
		policy:  cfg.Policy,
		settle:  cfg.SettleDelay,
		now:     time.Now,
	}
	r.snapshot = domain.Readiness{State: domain.StateUninitialized, Status: "Not connected.", UpdatedAt: r.now()}

	return r
}

// Activate installs session and resets state to Uninitialized.
// Any pass or refresh of the previous session is cancelled.
func (r *Reconciler) Activate(session domain.Session) {
	r.mu.Lock()
	r.invalidateLocked()
	s := session
	r.session = &s
	r.sessionCtx, r.sessionCancel = context.WithCancel(context.Background())
	snap := r.setLocked(domain.Readiness{
		State:   domain.StateUninitialized,
		Status:  "Waiting for ledger service...",
		Address: s.Address,
		Asset:   s.Asset,
	})
	r.mu.Unlock()

	r.l.Info("session activated", zap.String("address", s.Address), zap.String("asset", s.Asset.String()))
	r.emit(snap)
}

// Reset drops the session, cancels in-flight work and clears derived data.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	had := r.session != nil
	r.invalidateLocked()
	r.session = nil
	snap := r.setLocked(domain.Readiness{State: domain.StateUninitialized, Status: "Disconnected."})
	r.mu.Unlock()

	if had {
		r.l.Info("session reset")
	}
	r.emit(snap)
}

// Snapshot returns the current readiness.
func (r *Reconciler) Snapshot() domain.Readiness {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Reconcile runs one pass for the active session. Passes never overlap: a call
// made while a pass runs returns ErrReconcileInProgress and the running pass
// is repeated once.
func (r *Reconciler) Reconcile(ctx context.Context) (domain.Readiness, error) {
	r.mu.Lock()
	if r.running {
		r.rerun = true
		snap := r.snapshot
		r.mu.Unlock()
		return snap, ErrReconcileInProgress
	}
	r.running = true
	r.mu.Unlock()

	for {
		snap, err := r.pass(ctx)

		r.mu.Lock()
		if !r.rerun || ctx.Err() != nil || r.session == nil {
			// a pass bound to a replaced session still owes the current one its rerun
			handoff := r.rerun && ctx.Err() != nil && r.session != nil && r.sessionCtx.Err() == nil
			sessionCtx := r.sessionCtx
			r.running = false
			r.rerun = false
			r.mu.Unlock()

			if handoff {
				go r.rerunFor(sessionCtx)
			}
			return snap, err
		}
		r.rerun = false
		r.mu.Unlock()
	}
}

func (r *Reconciler) rerunFor(ctx context.Context) {
	if _, err := r.Reconcile(ctx); err != nil && !isQuiet(err) {
		r.l.Warn("queued reconciliation failed", zap.Error(err))
	}
}

// RefreshAfter schedules a pass after delay. A pending refresh is replaced.
// The timer is bound to the current session.
func (r *Reconciler) RefreshAfter(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return
	}
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
	}

	gen := r.generation
	ctx := r.sessionCtx
	r.refreshTimer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		current := r.generation == gen
		r.mu.Unlock()
		if !current {
			return
		}

		if _, err := r.Reconcile(ctx); err != nil && !isQuiet(err) {
			r.l.Warn("scheduled refresh failed", zap.Error(err))
		}
	})
}

// Run re-polls the account every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if _, err := r.Reconcile(ctx); err != nil && !isQuiet(err) {
		r.l.Warn("initial reconciliation failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.l.Debug("Context done, stopping reconciliation loop.")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil && !isQuiet(err) {
				r.l.Warn("periodic reconciliation failed", zap.Error(err))
			}
		}
	}
}

// Close cancels pending refreshes and in-flight passes.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.invalidateLocked()
	r.mu.Unlock()
}

func (r *Reconciler) pass(ctx context.Context) (domain.Readiness, error) {
	r.mu.Lock()
	if r.session == nil {
		snap := r.snapshot
		r.mu.Unlock()
		return snap, domain.NewError(domain.KindNoAccount, "no active session", nil)
	}
	session := *r.session
	gen := r.generation
	sessionCtx := r.sessionCtx
	passCtx, cancel := context.WithCancel(ctx)
	r.passCancel = cancel
	r.mu.Unlock()

	// reset of the session aborts the pass as well
	stop := context.AfterFunc(sessionCtx, cancel)
	defer func() {
		stop()
		cancel()
		r.mu.Lock()
		if r.generation == gen {
			r.passCancel = nil
		}
		r.mu.Unlock()
	}()

	started := r.now()
	snap, err := r.evaluate(passCtx, session, gen)
	metrics.ObserveReconcilePass(snap.State, started)

	return snap, err
}

func (r *Reconciler) evaluate(ctx context.Context, session domain.Session, gen uint64) (domain.Readiness, error) {
	// returns at once after the first success
	if err := r.broker.Wait(ctx); err != nil {
		return r.fail(ctx, gen, session, err, domain.StatusMessage(err))
	}

	if snap, ok := r.transition(gen, session, domain.StateLoading, "Loading account...", nil); !ok {
		return snap, ErrSessionChanged
	}

	account, err := r.ledger.LoadAccount(ctx, session.Address)
	if err != nil {
		return r.fail(ctx, gen, session, err, domain.StatusMessage(err))
	}

	if account.HasTrustline(session.Asset) {
		return r.settled(gen, session, domain.StateReady, "Ready. Trustline for "+session.Asset.Code+" is established.", &account)
	}

	if r.policy == PolicyExternal {
		return r.settled(gen, session, domain.StateAwaitingTrustline,
			"No trustline for "+session.Asset.Code+". Create the trustline with your wallet, then refresh.", &account)
	}

	if snap, ok := r.transition(gen, session, domain.StateAwaitingTrustline, "No trustline for "+session.Asset.Code+" yet.", &account); !ok {
		return snap, ErrSessionChanged
	}

	return r.provision(ctx, gen, session, account)
}

func (r *Reconciler) provision(ctx context.Context, gen uint64, session domain.Session, account domain.Account) (domain.Readiness, error) {
	if snap, ok := r.transition(gen, session, domain.StateProvisioningTrustline, "Creating trustline for "+session.Asset.Code+"...", &account); !ok {
		return snap, ErrSessionChanged
	}

	tx, err := r.builder.ChangeTrust(account, session.Asset)
	if err != nil {
		return r.fail(ctx, gen, session, err, provisioningMessage(err))
	}

	signed, err := r.signer.Sign(ctx, tx, session.Address)
	if err != nil {
		return r.fail(ctx, gen, session, err, provisioningMessage(err))
	}

	res, err := r.ledger.Submit(ctx, signed)
	if err != nil {
		return r.fail(ctx, gen, session, err, provisioningMessage(err))
	}

	r.l.Info("trustline created",
		zap.String("address", session.Address),
		zap.String("asset", session.Asset.String()),
		zap.String("hash", res.Hash),
	)

	snap, err := r.settled(gen, session, domain.StateReady, "Trustline for "+session.Asset.Code+" created. Ready.", &account)
	if err == nil && r.settle > 0 {
		r.RefreshAfter(r.settle)
	}

	return snap, err
}

// settled publishes a state that ends the pass.
func (r *Reconciler) settled(gen uint64, session domain.Session, state domain.ReadinessState, status string, account *domain.Account) (domain.Readiness, error) {
	snap, ok := r.transition(gen, session, state, status, account)
	if !ok {
		return snap, ErrSessionChanged
	}
	return snap, nil
}

func (r *Reconciler) fail(ctx context.Context, gen uint64, session domain.Session, cause error, status string) (domain.Readiness, error) {
	if ctx.Err() != nil {
		r.mu.Lock()
		current := r.generation == gen
		snap := r.snapshot
		r.mu.Unlock()
		if !current {
			return snap, ErrSessionChanged
		}
		return snap, ctx.Err()
	}

	r.l.Warn("readiness failed",
		zap.String("address", session.Address),
		zap.String("kind", string(domain.KindOf(cause))),
		zap.Error(cause),
	)

	r.mu.Lock()
	if r.generation != gen {
		snap := r.snapshot
		r.mu.Unlock()
		return snap, ErrSessionChanged
	}
	snap := r.setLocked(domain.Readiness{
		State:   domain.StateFailed,
		Status:  status,
		Err:     cause,
		Address: session.Address,
		Asset:   session.Asset,
	})
	r.mu.Unlock()

	r.emit(snap)
	return snap, cause
}

// transition publishes a new state if gen is still current.
func (r *Reconciler) transition(gen uint64, session domain.Session, state domain.ReadinessState, status string, account *domain.Account) (domain.Readiness, bool) {
	r.mu.Lock()
	if r.generation != gen {
		snap := r.snapshot
		r.mu.Unlock()
		return snap, false
	}

	next := domain.Readiness{
		State:   state,
		Status:  status,
		Address: session.Address,
		Asset:   session.Asset,
		Account: account,
	}
	// keep the last loaded account visible while loading again
	if account == nil && state == domain.StateLoading {
		next.Account = r.snapshot.Account
	}
	snap := r.setLocked(next)
	r.mu.Unlock()

	r.l.Debug("readiness transition", zap.String("address", session.Address), zap.Stringer("state", state))
	r.emit(snap)
	return snap, true
}

func (r *Reconciler) setLocked(next domain.Readiness) domain.Readiness {
	next.UpdatedAt = r.now()
	r.snapshot = next
	return next
}

// invalidateLocked bumps the generation so that stale passes and timers drop
// their results, and cancels them.
func (r *Reconciler) invalidateLocked() {
	r.generation++
	if r.passCancel != nil {
		r.passCancel()
		r.passCancel = nil
	}
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
		r.refreshTimer = nil
	}
	if r.sessionCancel != nil {
		r.sessionCancel()
		r.sessionCancel = nil
	}
	r.rerun = false
}

func (r *Reconciler) emit(snap domain.Readiness) {
	metrics.ObserveReadiness(snap.State)
	if r.events == nil {
		return
	}

	ev := domain.StatusEvent{
		Timestamp: snap.UpdatedAt,
		Source:    domain.SourceReadiness,
		State:     snap.State.String(),
		Message:   snap.Status,
		Address:   snap.Address,
	}
	if snap.Err != nil {
		ev.ErrorKind = string(domain.KindOf(snap.Err))
	}
	r.events.Publish(ev)
}

// provisioningMessage surfaces the ledger rejection detail when present,
// else the transport error.
func provisioningMessage(err error) string {
	var e *domain.Error
	if !errors.As(err, &e) {
		return "Failed to create trustline: " + err.Error()
	}

	switch e.Kind {
	case domain.KindSignerRejected, domain.KindSignerUnavailable, domain.KindInsufficientBalance:
		return "Failed to create trustline. " + domain.StatusMessage(err)
	}

	var parts []string
	if e.Code != "" {
		code := e.Code
		if len(e.Operations) > 0 {
			code = fmt.Sprintf("%s (%s)", code, strings.Join(e.Operations, ", "))
		}
		parts = append(parts, code)
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if len(parts) == 0 && e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		parts = append(parts, string(e.Kind))
	}

	return "Failed to create trustline: " + strings.Join(parts, ": ")
}

func isQuiet(err error) bool {
	return errors.Is(err, ErrReconcileInProgress) ||
		errors.Is(err, ErrSessionChanged) ||
		errors.Is(err, context.Canceled)
}
