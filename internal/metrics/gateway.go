package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stellar/go-stellar-sdk/txnbuild"

	"github.com/vadiminshakov/datex/internal/domain"
	"github.com/vadiminshakov/datex/internal/services/gateway"
)

var (
	gatewayOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datex",
		Subsystem: "ledger_gateway",
		Name:      "operations_total",
		Help:      "Count of ledger gateway operations.",
	}, []string{"operation", "status", "kind"})
	gatewayOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "datex",
		Subsystem: "ledger_gateway",
		Name:      "operation_duration_seconds",
		Help:      "Duration of ledger gateway operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
)

// ObservedGateway records metrics around a LedgerGateway.
type ObservedGateway struct {
	next gateway.LedgerGateway
}

// NewObservedGateway wraps next with prometheus instrumentation.
func NewObservedGateway(next gateway.LedgerGateway) *ObservedGateway {
	return &ObservedGateway{next: next}
}

func (g *ObservedGateway) Available(ctx context.Context) (err error) {
	defer func(started time.Time) { observeGateway("available", err, started) }(time.Now())
	return g.next.Available(ctx)
}

func (g *ObservedGateway) LoadAccount(ctx context.Context, address string) (account domain.Account, err error) {
	defer func(started time.Time) { observeGateway("load_account", err, started) }(time.Now())
	return g.next.LoadAccount(ctx, address)
}

func (g *ObservedGateway) Submit(ctx context.Context, tx *txnbuild.Transaction) (res domain.SubmitResult, err error) {
	defer func(started time.Time) { observeGateway("submit", err, started) }(time.Now())
	return g.next.Submit(ctx, tx)
}

func (g *ObservedGateway) OpenStream(ctx context.Context, address, cursor string) (s gateway.Stream, err error) {
	defer func(started time.Time) { observeGateway("open_stream", err, started) }(time.Now())
	return g.next.OpenStream(ctx, address, cursor)
}

func observeGateway(operation string, err error, started time.Time) {
	status := statusOf(err)
	kind := string(domain.KindOf(err))
	if kind == "" && err != nil {
		kind = "unknown"
	}

	gatewayOperationsTotal.WithLabelValues(operation, status, kind).Inc()
	gatewayOperationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var _ gateway.LedgerGateway = (*ObservedGateway)(nil)
