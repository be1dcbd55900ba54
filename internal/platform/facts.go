package platform

import "time"

// Platform identifiers as stored on orders and subscriptions.
const (
	AppStore   = "AppStore"
	GooglePlay = "GooglePay"
)

// EventType is the platform-neutral notification type.
type EventType string

const (
	EventPurchased            EventType = "purchased"
	EventRenewed              EventType = "renewed"
	EventRenewalFailed        EventType = "renewal_failed"
	EventRenewalStatusChanged EventType = "renewal_status_changed"
	EventOnHold               EventType = "on_hold"
	EventGracePeriod          EventType = "grace_period"
	EventRecovered            EventType = "recovered"
	EventRestarted            EventType = "restarted"
	EventCancelled            EventType = "cancelled"
	EventExpired              EventType = "expired"
	EventRevoked              EventType = "revoked"
	EventRefunded             EventType = "refunded"
	EventTest                 EventType = "test"
	EventUnknown              EventType = "unknown"
)

// IsCharge reports whether the event corresponds to money changing hands,
// i.e. it produces an order row.
func (e EventType) IsCharge() bool {
	switch e {
	case EventPurchased, EventRenewed, EventRecovered:
		return true
	}
	return false
}

// PurchaseFact is a verified purchase as reported by the issuing platform.
type PurchaseFact struct {
	OriginalTransactionID string
	TransactionID         string
	ProductID             string
	PurchaseDate          time.Time
	// ExpiryDate is nil for non-renewing products.
	ExpiryDate      *time.Time
	AutoRenewing    bool
	Valid           bool
	PurchaseToken   string
	Acknowledged    bool
	AppAccountToken string
	Environment     string
}

// NotificationFact is a decoded platform notification.
type NotificationFact struct {
	Platform              string
	EventType             EventType
	RawType               string
	NotificationID        string
	TransactionID         string
	OriginalTransactionID string
	PurchaseToken         string
	ProductID             string
	EventTime             time.Time
	AppAccountToken       string
	Test                  bool
	// Purchase is set when the payload itself carries transaction data
	// (Apple signedTransactionInfo) or after a Google purchase lookup.
	Purchase *PurchaseFact
}

// ClaimKey is the identifier the idempotency ledger is keyed on.
// Charges are keyed by the per-charge transaction id so that a purchase seen
// through both the synchronous flow and a webhook is applied once.
func (n *NotificationFact) ClaimKey() string {
	if n.EventType.IsCharge() {
		if n.Purchase != nil && n.Purchase.TransactionID != "" {
			return n.Purchase.TransactionID
		}
		if n.TransactionID != "" {
			return n.TransactionID
		}
	}
	return n.Platform + ":" + n.NotificationID
}

// LineageID returns the stable subscription lineage identifier.
func (n *NotificationFact) LineageID() string {
	if n.Purchase != nil && n.Purchase.OriginalTransactionID != "" {
		return n.Purchase.OriginalTransactionID
	}
	if n.OriginalTransactionID != "" {
		return n.OriginalTransactionID
	}
	return n.PurchaseToken
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func millisToTimePtr(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := millisToTime(ms)
	return &t
}
