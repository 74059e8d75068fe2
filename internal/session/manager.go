// Package session owns the active account session. Connecting, switching and
// disconnecting replace the session object instead of mutating shared state.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stellar/go-stellar-sdk/keypair"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/internal/domain"
)

const DefaultPollInterval = 30 * time.Second

// ErrInvalidAddress is returned for malformed account addresses.
var ErrInvalidAddress = errors.New("invalid account address")

type reconciler interface {
	Activate(session domain.Session)
	Reset()
	Run(ctx context.Context, interval time.Duration) error
}

type streamWatcher interface {
	Start(ctx context.Context, address string) error
	Stop()
}

// Config tunes the manager.
type Config struct {
	// AssetCode of the self-issued custom asset.
	AssetCode    string
	PollInterval time.Duration
}

// Manager wires one session at a time into the reconciler and stream watcher.
type Manager struct {
	l          *zap.Logger
	ctx        context.Context
	reconciler reconciler
	watcher    streamWatcher
	cfg        Config

	mu        sync.Mutex
	active    *domain.Session
	runCancel context.CancelFunc
	runDone   chan struct{}
}

// NewManager creates a Manager. ctx bounds every session it starts.
func NewManager(ctx context.Context, l *zap.Logger, reconciler reconciler, watcher streamWatcher, cfg Config) *Manager {
	if cfg.AssetCode == "" {
		cfg.AssetCode = domain.DataAssetCode
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Manager{
		l:          l,
		ctx:        ctx,
		reconciler: reconciler,
		watcher:    watcher,
		cfg:        cfg,
	}
}

// Connect activates address, replacing any existing session.
func (m *Manager) Connect(address string) (domain.Session, error) {
	address = strings.TrimSpace(address)
	if _, err := keypair.ParseAddress(address); err != nil {
		return domain.Session{}, errors.Wrapf(ErrInvalidAddress, "%q: %v", address, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ctx.Err(); err != nil {
		return domain.Session{}, errors.Wrap(err, "session manager is closed")
	}

	m.disconnectLocked()

	s := domain.Session{
		ID:      uuid.NewString(),
		Address: address,
		Asset:   domain.NewCustomAsset(m.cfg.AssetCode, address),
	}

	m.reconciler.Activate(s)
	if err := m.watcher.Start(m.ctx, address); err != nil {
		m.reconciler.Reset()
		return domain.Session{}, errors.Wrap(err, "failed to start transaction stream")
	}

	runCtx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.reconciler.Run(runCtx, m.cfg.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
			m.l.Error("reconciliation loop stopped", zap.String("address", s.Address), zap.Error(err))
		}
	}()

	m.active = &s
	m.runCancel = cancel
	m.runDone = done

	m.l.Info("session connected", zap.String("session_id", s.ID), zap.String("address", s.Address))
	return s, nil
}

// Disconnect tears down the active session, if any.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

// Active returns the current session.
func (m *Manager) Active() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return domain.Session{}, false
	}
	return *m.active, true
}

// ActiveAddress returns the active address or empty.
func (m *Manager) ActiveAddress() string {
	s, _ := m.Active()
	return s.Address
}

// Close disconnects on shutdown.
func (m *Manager) Close() {
	m.Disconnect()
}

// disconnectLocked aborts the availability wait and any pass, closes the
// stream, then resets readiness.
func (m *Manager) disconnectLocked() {
	if m.active == nil {
		return
	}

	m.runCancel()
	<-m.runDone
	m.watcher.Stop()
	m.reconciler.Reset()

	m.l.Info("session disconnected", zap.String("session_id", m.active.ID), zap.String("address", m.active.Address))
	m.active = nil
	m.runCancel = nil
	m.runDone = nil
}
