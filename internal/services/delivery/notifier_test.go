package delivery

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/internal/domain"
	"github.com/vadiminshakov/datex/internal/events"
	"github.com/vadiminshakov/datex/internal/storage/deliveries"
)

type failingJournal struct{}

func (failingJournal) Append(domain.DeliveryRecord) (uint64, error) {
	return 0, errors.New("disk full")
}

func TestNotifier_JournalsAndAnnounces(t *testing.T) {
	store, err := deliveries.NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	bus := events.NewStatusBroadcaster(4)
	sub := bus.Subscribe()

	n := NewNotifier(zap.NewNop(), store, bus, func() string { return "GABC" })
	n.OnPurchaseConfirmed("XYZ123")

	entries, err := store.RecordsAfter(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "XYZ123", entries[0].Record.OrderID)
	assert.Equal(t, "GABC", entries[0].Record.Address)
	assert.NotEmpty(t, entries[0].Record.ID)

	ev := <-sub
	assert.Equal(t, domain.SourceDelivery, ev.Source)
	assert.Equal(t, "XYZ123", ev.OrderID)
	assert.Contains(t, ev.Message, "XYZ123")
}

func TestNotifier_JournalFailureStillAnnounces(t *testing.T) {
	bus := events.NewStatusBroadcaster(4)
	sub := bus.Subscribe()

	n := NewNotifier(zap.NewNop(), failingJournal{}, bus, nil)
	n.OnPurchaseConfirmed("A1")

	assert.Equal(t, "A1", (<-sub).OrderID)
}
