package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// PurchaseMemoMarker prefixes the order id in purchase memos.
	PurchaseMemoMarker = "BUY-"
	// MaxMemoTextLength is the ledger limit for text memos in bytes.
	MaxMemoTextLength = 28
)

// Item is a listing offered for sale.
type Item struct {
	ID     string
	Title  string
	Seller string
	// Price in native units.
	Price decimal.Decimal
}

// PendingOrder exists only while a purchase is being submitted.
type PendingOrder struct {
	OrderID     string
	Destination string
	Amount      decimal.Decimal
	CreatedAt   time.Time
}

// Memo returns the memo text carrying the order id.
func (o PendingOrder) Memo() string {
	return PurchaseMemo(o.OrderID)
}

// SubmitResult is the ledger acknowledgement of a submitted transaction.
type SubmitResult struct {
	Hash   string
	Ledger int32
}

// PurchaseResult is returned by a successful purchase.
type PurchaseResult struct {
	OrderID     string
	Hash        string
	SubmittedAt time.Time
}

// PurchaseMemo builds the memo text for an order.
func PurchaseMemo(orderID string) string {
	return PurchaseMemoMarker + orderID
}

// ParsePurchaseMemo extracts the order id from a purchase memo.
// The marker is case-sensitive and the order id must be non-empty.
func ParsePurchaseMemo(text string) (string, bool) {
	if !strings.HasPrefix(text, PurchaseMemoMarker) {
		return "", false
	}
	orderID := strings.TrimPrefix(text, PurchaseMemoMarker)
	if orderID == "" {
		return "", false
	}
	return orderID, true
}
