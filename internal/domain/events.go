package domain

import "time"

// TransactionRecord is a raw transaction as delivered by the live stream.
// Memo keeps whatever shape the transport produced.
type TransactionRecord struct {
	ID          string
	Hash        string
	PagingToken string
	MemoType    string
	Memo        any
	// MemoBytes base64 of the raw memo bytes, when provided.
	MemoBytes  string
	Successful bool
}

// StatusSource identifies the component that emitted a status event.
type StatusSource string

const (
	SourceReadiness StatusSource = "readiness"
	SourcePurchase  StatusSource = "purchase"
	SourceStream    StatusSource = "stream"
	SourceDelivery  StatusSource = "delivery"
)

// StatusEvent is a human-readable status update for UI consumers.
// Uses string fields to stay transport friendly.
type StatusEvent struct {
	Timestamp time.Time    `json:"ts"`
	Source    StatusSource `json:"source"`
	State     string       `json:"state,omitempty"`
	Message   string       `json:"message"`
	Address   string       `json:"address,omitempty"`
	TxHash    string       `json:"tx_hash,omitempty"`
	OrderID   string       `json:"order_id,omitempty"`
	ErrorKind string       `json:"error_kind,omitempty"`
}

// DeliveryRecord is a confirmed purchase delivery.
type DeliveryRecord struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Address     string    `json:"address,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// DeliveryRecordEntry bundles a journal record with its index.
type DeliveryRecordEntry struct {
	Index  uint64
	Record DeliveryRecord
}
