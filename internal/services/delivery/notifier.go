// Package delivery reacts to confirmed purchases.
package delivery

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/internal/domain"
)

type journal interface {
	Append(record domain.DeliveryRecord) (uint64, error)
}

type publisher interface {
	Publish(domain.StatusEvent)
}

// Notifier simulates key delivery: it logs, journals and announces each
// confirmed purchase.
type Notifier struct {
	l       *zap.Logger
	journal journal
	events  publisher
	address func() string
	now     func() time.Time
}

// NewNotifier creates a Notifier. journal, events and address may be nil.
func NewNotifier(l *zap.Logger, journal journal, events publisher, address func() string) *Notifier {
	if address == nil {
		address = func() string { return "" }
	}
	return &Notifier{
		l:       l,
		journal: journal,
		events:  events,
		address: address,
		now:     time.Now,
	}
}

// OnPurchaseConfirmed never blocks on consumers; journal failures are logged.
func (n *Notifier) OnPurchaseConfirmed(orderID string) {
	record := domain.DeliveryRecord{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Address:     n.address(),
		DeliveredAt: n.now(),
	}

	n.l.Info("Successfully purchased data! Simulating delivery of decryption key",
		zap.String("order_id", orderID),
		zap.String("delivery_id", record.ID),
	)

	if n.journal != nil {
		if _, err := n.journal.Append(record); err != nil {
			n.l.Error("failed to journal delivery", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	if n.events != nil {
		n.events.Publish(domain.StatusEvent{
			Timestamp: record.DeliveredAt,
			Source:    domain.SourceDelivery,
			State:     "delivered",
			Message:   "Data delivery simulated for ID: " + orderID,
			Address:   record.Address,
			OrderID:   orderID,
		})
	}
}
