// Package deliveries journals confirmed purchase deliveries in a WAL.
package deliveries

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/datex/internal/domain"
)

const (
	defaultDir           = "./wal/deliveries"
	deliverySegmentLimit = 1000
	deliveryMaxSegments  = 100
	deliveryKeyPrefix    = "delivery_"
)

// WALStore is an append-only audit journal of deliveries. It is not consulted
// for deduplication.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens or creates the journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "delivery_",
		SegmentThreshold: deliverySegmentLimit,
		MaxSegments:      deliveryMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init delivery WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes a delivery record and returns its index.
func (s *WALStore) Append(record domain.DeliveryRecord) (uint64, error) {
	if s == nil || s.wal == nil {
		return 0, errors.New("delivery store is not initialized")
	}
	if record.OrderID == "" {
		return 0, errors.New("delivery order id is required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return 0, errors.Wrap(err, "marshal delivery record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(index, deliveryKeyPrefix+record.OrderID, payload); err != nil {
		return 0, errors.Wrapf(err, "write delivery %s", record.OrderID)
	}

	return index, nil
}

// RecordsAfter returns all deliveries written after index.
func (s *WALStore) RecordsAfter(index uint64) ([]domain.DeliveryRecordEntry, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("delivery store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	entries := make([]domain.DeliveryRecordEntry, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "read delivery entry %d", idx)
		}
		// missing indexes come back with an empty key
		if !strings.HasPrefix(key, deliveryKeyPrefix) {
			continue
		}
		var record domain.DeliveryRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, errors.Wrap(err, "decode delivery record")
		}
		entries = append(entries, domain.DeliveryRecordEntry{Index: idx, Record: record})
	}

	return entries, nil
}

// Replay returns every journaled delivery, including those written by
// previous runs.
func (s *WALStore) Replay() ([]domain.DeliveryRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("delivery store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []domain.DeliveryRecord
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, deliveryKeyPrefix) {
			continue
		}
		var record domain.DeliveryRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			return nil, errors.Wrapf(err, "decode delivery record %s", msg.Key)
		}
		records = append(records, record)
	}

	return records, nil
}

// CurrentIndex returns the latest index written.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("delivery store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
