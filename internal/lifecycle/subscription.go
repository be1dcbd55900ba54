// Package lifecycle holds the subscription state machine. It performs no I/O:
// callers load the current Subscription, call Apply, and persist the result
// together with the returned effects.
package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a user's subscription.
type Status string

const (
	StatusNone      Status = "none"
	StatusActive    Status = "active"
	StatusGrace     Status = "grace"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// Subscription is embedded in the user record.
type Subscription struct {
	Status                Status     `json:"status" gorm:"size:20;default:'none';index"`
	PlanType              string     `json:"plan_type" gorm:"size:20"`
	EndDate               *time.Time `json:"end_date" gorm:"index"`
	AutoRenew             bool       `json:"auto_renew"`
	OriginalTransactionID string     `json:"original_transaction_id" gorm:"size:255;index"`
	Platform              string     `json:"platform" gorm:"size:20"`
	// LastEventAt is the latest platform timestamp applied to this record.
	LastEventAt *time.Time `json:"last_event_at"`
}

func (s Subscription) normalized() Subscription {
	if s.Status == "" {
		s.Status = StatusNone
	}
	return s
}

// HasAccess reports whether the subscription grants entitlement at now.
// Cancelled subscriptions keep access until their end date.
func (s Subscription) HasAccess(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusGrace, StatusCancelled:
		return s.EndDate != nil && s.EndDate.After(now)
	}
	return false
}

// Expirable reports whether the sweeper should move the subscription to expired.
func (s Subscription) Expirable(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusGrace, StatusCancelled:
		return s.EndDate != nil && !s.EndDate.After(now)
	}
	return false
}

// Product is the catalog definition a charge is priced and timed against.
type Product struct {
	ProductID    string
	PlanType     string
	DurationDays int
	Price        decimal.Decimal
	Currency     string
}

// Provenance attributes an order to the channel that produced it.
type Provenance struct {
	DistributorID    *uint  `json:"distributor_id,omitempty"`
	SourcePasscodeID *uint  `json:"source_passcode_id,omitempty"`
	SourceBookID     *uint  `json:"source_book_id,omitempty"`
	SourceEntry      string `json:"source_entry,omitempty"`
}

// Empty reports whether no attribution is set.
func (p Provenance) Empty() bool {
	return p.DistributorID == nil && p.SourcePasscodeID == nil && p.SourceBookID == nil && p.SourceEntry == ""
}
