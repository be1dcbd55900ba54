package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
)

// Effect is a side effect the persistence layer applies in the same
// transaction as the new Subscription.
type Effect interface {
	effect()
}

// CreateOrder inserts one Paid order for a charge.
type CreateOrder struct {
	Platform              string
	ProductID             string
	PlanType              string
	TransactionID         string
	OriginalTransactionID string
	PurchaseToken         string
	Amount                decimal.Decimal
	Currency              string
	StartDate             time.Time
	EndDate               time.Time
	AutoRenew             bool
	Provenance            Provenance
}

// ExtendEndDate grants entitlement until EndDate.
type ExtendEndDate struct {
	EndDate time.Time
}

// SetAutoRenew records the platform's auto-renew flag on the lineage.
type SetAutoRenew struct {
	OriginalTransactionID string
	AutoRenew             bool
}

// RevokeAccess removes entitlement immediately.
type RevokeAccess struct {
	At time.Time
}

// VoidCommission marks an order Refunded so it drops out of revenue and
// commission reporting. A zero OrderID means the latest paid order of the lineage.
type VoidCommission struct {
	OrderID               uint
	OriginalTransactionID string
	At                    time.Time
}

// RecordCancellation stamps the cancellation onto the lineage's latest order.
type RecordCancellation struct {
	OriginalTransactionID string
	Reason                string
	At                    time.Time
}

func (CreateOrder) effect()        {}
func (ExtendEndDate) effect()      {}
func (SetAutoRenew) effect()       {}
func (RevokeAccess) effect()       {}
func (VoidCommission) effect()     {}
func (RecordCancellation) effect() {}
