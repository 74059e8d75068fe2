package internal

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/datex/config"
	"github.com/vadiminshakov/datex/internal/clients"
	"github.com/vadiminshakov/datex/internal/events"
	"github.com/vadiminshakov/datex/internal/metrics"
	"github.com/vadiminshakov/datex/internal/services/broker"
	"github.com/vadiminshakov/datex/internal/services/delivery"
	"github.com/vadiminshakov/datex/internal/services/gateway"
	"github.com/vadiminshakov/datex/internal/services/purchase"
	"github.com/vadiminshakov/datex/internal/services/readiness"
	"github.com/vadiminshakov/datex/internal/services/signer"
	"github.com/vadiminshakov/datex/internal/services/txbuilder"
	"github.com/vadiminshakov/datex/internal/services/watcher"
	"github.com/vadiminshakov/datex/internal/session"
	"github.com/vadiminshakov/datex/internal/storage/deliveries"
	"github.com/vadiminshakov/datex/internal/web"
)

const statusBuffer = 64

// Engine is one fully wired instance: ledger access, readiness, purchases,
// the transaction stream and the HTTP API around a single active session.
type Engine struct {
	l   *zap.Logger
	cfg config.Config

	Events    *events.StatusBroadcaster
	Journal   *deliveries.WALStore
	Gateway   gateway.LedgerGateway
	Signer    signer.Signer
	Readiness *readiness.Reconciler
	Purchases *purchase.Orchestrator
	Watcher   *watcher.Watcher
	Sessions  *session.Manager
	API       *web.Server
}

// NewEngine builds every component from cfg. ctx bounds the sessions the engine starts.
func NewEngine(ctx context.Context, l *zap.Logger, cfg config.Config) (*Engine, error) {
	policy, err := readiness.ParsePolicy(cfg.TrustlinePolicy)
	if err != nil {
		return nil, err
	}

	builder, err := txbuilder.New(txbuilder.Config{
		BaseFee:    cfg.BaseFee,
		Timeout:    cfg.TxTimeout,
		TrustLimit: cfg.TrustLimit.String(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transaction builder")
	}

	sign, err := newSigner(l, cfg)
	if err != nil {
		return nil, err
	}

	journal, err := deliveries.NewWALStore(cfg.JournalDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open delivery journal")
	}

	e := &Engine{
		l:       l,
		cfg:     cfg,
		Events:  events.NewStatusBroadcaster(statusBuffer),
		Journal: journal,
		Signer:  sign,
	}

	e.Gateway = metrics.NewObservedGateway(gateway.NewHorizon(
		clients.NewHorizonClient(cfg.HorizonURL, cfg.HorizonTimeout),
		clients.NewHorizonStreamClient(cfg.HorizonURL),
		cfg.HorizonRPS,
	))

	availability := broker.New(l.Named("broker"), e.Gateway.Available, cfg.BrokerInterval, cfg.BrokerTimeout)

	e.Readiness = readiness.NewReconciler(l.Named("readiness"), e.Gateway, availability, builder, sign, e.Events, readiness.Config{
		Policy:      policy,
		SettleDelay: cfg.SettleDelay,
	})

	e.Purchases = purchase.NewOrchestrator(l.Named("purchase"), e.Readiness, e.Gateway, builder, sign, e.Events, purchase.Config{
		MaxSequenceRetries: cfg.MaxSequenceRetries,
		RefreshDelay:       cfg.RefreshDelay,
	})

	notifier := delivery.NewNotifier(l.Named("delivery"), journal, e.Events, func() string {
		return e.Watcher.Address()
	})

	e.Watcher = watcher.New(l.Named("stream"), e.Gateway, notifier, e.Events, watcher.Config{
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectInterval: cfg.MaxReconnectInterval,
	})

	e.Sessions = session.NewManager(ctx, l.Named("session"), e.Readiness, e.Watcher, session.Config{
		AssetCode:    cfg.AssetCode,
		PollInterval: cfg.PollInterval,
	})

	e.API = web.NewServer(l.Named("web"), cfg.WebAddr, web.Deps{
		Readiness:  e.Readiness,
		Purchases:  e.Purchases,
		Sessions:   e.Sessions,
		Deliveries: journal,
		Events:     e.Events,
		Stream:     e.Watcher,
	})

	return e, nil
}

// Run connects the configured address, if any, and serves the API until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if e.cfg.WebDomain != "" {
			return e.API.StartWithAutoTLS(gctx, strings.Split(e.cfg.WebDomain, ","), "")
		}
		return e.API.Start(gctx)
	})

	if e.cfg.Address != "" {
		if _, err := e.Sessions.Connect(e.cfg.Address); err != nil {
			e.l.Error("failed to connect configured address", zap.String("address", e.cfg.Address), zap.Error(err))
		}
	} else {
		e.l.Info("no address configured, waiting for PUT /session")
	}

	g.Go(func() error {
		<-gctx.Done()
		e.l.Info("Context done, stopping engine.")
		e.Sessions.Close()
		e.Readiness.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the delivery journal.
func (e *Engine) Close() error {
	return e.Journal.Close()
}

// newSigner picks the signing adapter. Without a secret the engine runs read-only.
func newSigner(l *zap.Logger, cfg config.Config) (signer.Signer, error) {
	if cfg.SignerSecret == "" {
		l.Warn("no signer configured, purchases and trustline provisioning will fail",
			zap.String("env", config.SignerSecretEnv))
		return signer.Unavailable{Reason: config.SignerSecretEnv + " is not set"}, nil
	}

	kp, err := signer.NewKeypairSigner(cfg.SignerSecret, cfg.NetworkPassphrase)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create signer")
	}
	if cfg.Address != "" && cfg.Address != kp.Address() {
		l.Warn("signer key does not match the configured address",
			zap.String("address", cfg.Address), zap.String("signer", kp.Address()))
	}

	if cfg.Approve {
		return signer.NewApprovalSigner(kp, nil), nil
	}
	return kp, nil
}
