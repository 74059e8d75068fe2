package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vadiminshakov/datex/internal/domain"
)

var (
	readinessState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "datex",
		Subsystem: "readiness",
		Name:      "state",
		Help:      "Current readiness state, 1 for the active state.",
	}, []string{"state"})
	reconcilePassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datex",
		Subsystem: "readiness",
		Name:      "passes_total",
		Help:      "Count of reconciliation passes by resulting state.",
	}, []string{"state"})
	reconcilePassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "datex",
		Subsystem: "readiness",
		Name:      "pass_duration_seconds",
		Help:      "Duration of reconciliation passes.",
		Buckets:   prometheus.DefBuckets,
	})
	purchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datex",
		Subsystem: "purchase",
		Name:      "attempts_total",
		Help:      "Count of purchase attempts by outcome.",
	}, []string{"status", "kind"})
	deliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "datex",
		Subsystem: "stream",
		Name:      "deliveries_total",
		Help:      "Count of purchase deliveries dispatched from the transaction stream.",
	})
	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "datex",
		Subsystem: "stream",
		Name:      "duplicate_orders_total",
		Help:      "Count of suppressed duplicate order memos.",
	})
	streamReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "datex",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Count of transaction stream reconnect attempts.",
	})
	streamRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "datex",
		Subsystem: "stream",
		Name:      "records_total",
		Help:      "Count of transaction records received from the stream.",
	})
)

var allStates = []domain.ReadinessState{
	domain.StateUninitialized,
	domain.StateLoading,
	domain.StateAwaitingTrustline,
	domain.StateProvisioningTrustline,
	domain.StateReady,
	domain.StateFailed,
}

// ObserveReadiness sets the state gauge so exactly one state reads 1.
func ObserveReadiness(state domain.ReadinessState) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		readinessState.WithLabelValues(s.String()).Set(v)
	}
}

// ObserveReconcilePass records a finished reconciliation pass.
func ObserveReconcilePass(state domain.ReadinessState, started time.Time) {
	reconcilePassesTotal.WithLabelValues(state.String()).Inc()
	reconcilePassDuration.Observe(time.Since(started).Seconds())
}

// ObservePurchase records a purchase outcome.
func ObservePurchase(err error) {
	kind := string(domain.KindOf(err))
	if err != nil && kind == "" {
		kind = "unknown"
	}
	purchasesTotal.WithLabelValues(statusOf(err), kind).Inc()
}

// ObserveStreamRecord counts a received stream record.
func ObserveStreamRecord() {
	streamRecordsTotal.Inc()
}

// ObserveDelivery counts a dispatched delivery.
func ObserveDelivery() {
	deliveriesTotal.Inc()
}

// ObserveDuplicate counts a suppressed duplicate.
func ObserveDuplicate() {
	duplicatesTotal.Inc()
}

// ObserveReconnect counts a stream reconnect attempt.
func ObserveReconnect() {
	streamReconnectsTotal.Inc()
}
