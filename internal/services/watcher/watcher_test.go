package watcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/internal/domain"
	"github.com/vadiminshakov/datex/internal/services/gateway"
)

type fakeStream struct {
	records chan domain.TransactionRecord
	once    sync.Once
	onClose func()
}

func (s *fakeStream) Records() <-chan domain.TransactionRecord { return s.records }
func (s *fakeStream) Err() error                               { return nil }
func (s *fakeStream) Close() error {
	s.onClose()
	return nil
}

// end simulates the server closing the connection.
func (s *fakeStream) end() {
	s.once.Do(func() { close(s.records) })
}

type fakeLedger struct {
	mu      sync.Mutex
	calls   []string
	cursors []string
	streams chan *fakeStream
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{streams: make(chan *fakeStream, 8)}
}

func (f *fakeLedger) OpenStream(_ context.Context, address, cursor string) (gateway.Stream, error) {
	s := &fakeStream{records: make(chan domain.TransactionRecord, 16)}
	s.onClose = func() { f.record("close:" + address) }

	f.mu.Lock()
	f.calls = append(f.calls, "open:"+address)
	f.cursors = append(f.cursors, cursor)
	f.mu.Unlock()

	f.streams <- s
	return s, nil
}

func (f *fakeLedger) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeLedger) history() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]string(nil), f.cursors...)
}

func (f *fakeLedger) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-f.streams:
		return s
	case <-time.After(time.Second):
		t.Fatal("stream was not opened")
		return nil
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	orders []string
	panics bool
}

func (h *recordingHandler) OnPurchaseConfirmed(orderID string) {
	h.mu.Lock()
	h.orders = append(h.orders, orderID)
	panics := h.panics
	h.mu.Unlock()
	if panics {
		panic("handler exploded")
	}
}

func (h *recordingHandler) delivered() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.orders...)
}

func record(n int, memo string) domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:          fmt.Sprintf("tx%d", n),
		Hash:        fmt.Sprintf("hash%d", n),
		PagingToken: fmt.Sprintf("%d", n),
		MemoType:    "text",
		Memo:        memo,
		Successful:  true,
	}
}

func newWatcher(t *testing.T) (*Watcher, *fakeLedger, *recordingHandler) {
	t.Helper()
	ledger := newFakeLedger()
	handler := &recordingHandler{}
	w := New(zap.NewNop(), ledger, handler, nil, Config{ReconnectInterval: time.Millisecond, MaxReconnectInterval: 5 * time.Millisecond})
	t.Cleanup(w.Stop)
	return w, ledger, handler
}

func waitHash(t *testing.T, w *Watcher, hash string) {
	t.Helper()
	require.Eventually(t, func() bool { return w.LastTransactionHash() == hash }, time.Second, time.Millisecond)
}

func TestWatcher_DeliversDuplicateOrderOnce(t *testing.T) {
	w, ledger, handler := newWatcher(t)
	require.NoError(t, w.Start(context.Background(), "GABC"))

	s := ledger.next(t)
	s.records <- record(1, "BUY-XYZ123")
	s.records <- record(2, "BUY-XYZ123")
	waitHash(t, w, "hash2")

	assert.Equal(t, []string{"XYZ123"}, handler.delivered())

	_, cursors := ledger.history()
	assert.Equal(t, []string{gateway.CursorNow}, cursors)
}

func TestWatcher_IgnoresNonPurchaseMemos(t *testing.T) {
	w, ledger, handler := newWatcher(t)
	require.NoError(t, w.Start(context.Background(), "GABC"))

	s := ledger.next(t)
	s.records <- record(1, "SELL-XYZ123")
	s.records <- record(2, "buy-XYZ123")
	s.records <- record(3, "BUY-")
	s.records <- domain.TransactionRecord{Hash: "hash4", MemoType: "hash", Memo: "QlVZLVhZWjEyMw==", Successful: true}
	s.records <- domain.TransactionRecord{Hash: "hash5", Memo: map[string]any{"_type": 7}, Successful: true}
	waitHash(t, w, "hash5")

	assert.Empty(t, handler.delivered())
}

func TestWatcher_SkipsFailedTransactions(t *testing.T) {
	w, ledger, handler := newWatcher(t)
	require.NoError(t, w.Start(context.Background(), "GABC"))

	s := ledger.next(t)
	failed := record(1, "BUY-A1")
	failed.Successful = false
	s.records <- failed
	waitHash(t, w, "hash1")

	assert.Empty(t, handler.delivered())
}

func TestWatcher_ClosesBeforeReopening(t *testing.T) {
	w, ledger, _ := newWatcher(t)

	require.NoError(t, w.Start(context.Background(), "GAAA"))
	ledger.next(t)

	require.NoError(t, w.Start(context.Background(), "GBBB"))
	ledger.next(t)
	assert.Equal(t, "GBBB", w.Address())

	w.Stop()
	assert.Empty(t, w.Address())

	calls, _ := ledger.history()
	assert.Equal(t, []string{"open:GAAA", "close:GAAA", "open:GBBB", "close:GBBB"}, calls)
}

func TestWatcher_ReconnectsFromLastCursorKeepingSeenSet(t *testing.T) {
	w, ledger, handler := newWatcher(t)
	require.NoError(t, w.Start(context.Background(), "GABC"))

	first := ledger.next(t)
	first.records <- record(10, "BUY-1")
	waitHash(t, w, "hash10")
	first.end()

	second := ledger.next(t)
	// overlap after reconnect replays the same order
	second.records <- record(10, "BUY-1")
	second.records <- record(11, "BUY-2")
	waitHash(t, w, "hash11")

	assert.Equal(t, []string{"1", "2"}, handler.delivered())

	calls, cursors := ledger.history()
	assert.Equal(t, []string{gateway.CursorNow, "10"}, cursors)
	assert.Equal(t, []string{"open:GABC", "close:GABC", "open:GABC"}, calls)
}

func TestWatcher_NewSubscriptionResetsSeenSet(t *testing.T) {
	w, ledger, handler := newWatcher(t)

	require.NoError(t, w.Start(context.Background(), "GABC"))
	s := ledger.next(t)
	s.records <- record(1, "BUY-1")
	waitHash(t, w, "hash1")

	require.NoError(t, w.Start(context.Background(), "GABC"))
	s = ledger.next(t)
	s.records <- record(2, "BUY-1")
	waitHash(t, w, "hash2")

	assert.Equal(t, []string{"1", "1"}, handler.delivered())
}

func TestWatcher_HandlerPanicDoesNotBreakStream(t *testing.T) {
	w, ledger, handler := newWatcher(t)
	handler.panics = true
	require.NoError(t, w.Start(context.Background(), "GABC"))

	s := ledger.next(t)
	s.records <- record(1, "BUY-1")
	s.records <- record(2, "BUY-2")
	waitHash(t, w, "hash2")

	assert.Equal(t, []string{"1", "2"}, handler.delivered())
}

func TestWatcher_StartRequiresAddress(t *testing.T) {
	w, _, _ := newWatcher(t)
	require.Error(t, w.Start(context.Background(), ""))
}

type addressLookupHandler struct {
	w       *Watcher
	entered chan struct{}
	release chan struct{}
	seen    chan string
}

func (h *addressLookupHandler) OnPurchaseConfirmed(string) {
	close(h.entered)
	<-h.release
	h.seen <- h.w.Address()
}

func TestWatcher_HandlerMayReadAddressDuringStop(t *testing.T) {
	ledger := newFakeLedger()
	h := &addressLookupHandler{entered: make(chan struct{}), release: make(chan struct{}), seen: make(chan string, 1)}
	w := New(zap.NewNop(), ledger, h, nil, Config{ReconnectInterval: time.Millisecond})
	h.w = w

	require.NoError(t, w.Start(context.Background(), "GABC"))
	ledger.next(t).records <- record(1, "BUY-XYZ123")
	<-h.entered

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	close(h.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a handler reading the address")
	}
	assert.Contains(t, []string{"GABC", ""}, <-h.seen)
}
