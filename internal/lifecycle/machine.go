package lifecycle

import (
	"time"

	"subscription-api/internal/platform"
)

// EventExpiryTick is the sweeper's time-based expiry transition.
const EventExpiryTick platform.EventType = "expiry_tick"

// Fact is the input to Apply.
type Fact struct {
	Event    platform.EventType
	Platform string
	// Purchase is required for charges and optional otherwise.
	Purchase   *platform.PurchaseFact
	Product    *Product
	Provenance Provenance
	// OriginalTransactionID identifies the lineage when Purchase is nil.
	OriginalTransactionID string
	// OccurredAt is the platform-reported event time.
	OccurredAt time.Time
	Now        time.Time
	Reason     string
	// RefundOrderID is the order voided by a refund, when known.
	RefundOrderID uint
}

func (f Fact) lineage() string {
	if f.Purchase != nil && f.Purchase.OriginalTransactionID != "" {
		return f.Purchase.OriginalTransactionID
	}
	return f.OriginalTransactionID
}

// timestamp is the platform time used for the latest-wins tie-break.
// Charges are ordered by purchase date, everything else by event time.
func (f Fact) timestamp() time.Time {
	if f.Event.IsCharge() && f.Purchase != nil && !f.Purchase.PurchaseDate.IsZero() {
		return f.Purchase.PurchaseDate
	}
	if !f.OccurredAt.IsZero() {
		return f.OccurredAt
	}
	return f.Now
}

// Apply computes the next subscription state and the effects to persist.
// It never mutates current.
func Apply(current Subscription, f Fact) (Subscription, []Effect) {
	cur := current.normalized()
	if f.Now.IsZero() {
		f.Now = f.timestamp()
	}

	if f.Event.IsCharge() {
		return applyCharge(cur, f)
	}

	switch f.Event {
	case platform.EventCancelled:
		return applyCancelled(cur, f)
	case platform.EventRenewalStatusChanged:
		return applyRenewalStatus(cur, f)
	case platform.EventRestarted:
		return applyRestarted(cur, f)
	case platform.EventGracePeriod, platform.EventOnHold:
		return applyGrace(cur, f)
	case platform.EventExpired:
		return applyExpired(cur, f)
	case platform.EventRevoked, platform.EventRefunded:
		return applyRevoked(cur, f)
	case EventExpiryTick:
		if cur.Expirable(f.Now) {
			cur.Status = StatusExpired
		}
		return cur, nil
	default:
		// renewal_failed without grace, unknown and test notifications are
		// recorded by the caller but do not move the state.
		return cur, nil
	}
}

func isStale(cur Subscription, at time.Time) bool {
	return cur.LastEventAt != nil && at.Before(*cur.LastEventAt)
}

// foreign reports whether the fact belongs to a different lineage than the
// one currently projected onto the subscription.
func foreign(cur Subscription, f Fact) bool {
	lineage := f.lineage()
	return cur.OriginalTransactionID != "" && lineage != "" && lineage != cur.OriginalTransactionID
}

func stamp(next *Subscription, at time.Time) {
	if next.LastEventAt == nil || at.After(*next.LastEventAt) {
		t := at
		next.LastEventAt = &t
	}
}

func chargeEndDate(p *platform.PurchaseFact, product *Product) time.Time {
	if p.ExpiryDate != nil {
		return *p.ExpiryDate
	}
	// Non-renewing products carry no platform expiry.
	days := 0
	if product != nil {
		days = product.DurationDays
	}
	return p.PurchaseDate.AddDate(0, 0, days)
}

func applyCharge(cur Subscription, f Fact) (Subscription, []Effect) {
	p := f.Purchase
	if p == nil || !p.Valid {
		return cur, nil
	}

	end := chargeEndDate(p, f.Product)
	autoRenew := p.AutoRenewing && p.ExpiryDate != nil
	order := CreateOrder{
		Platform:              f.Platform,
		ProductID:             p.ProductID,
		TransactionID:         p.TransactionID,
		OriginalTransactionID: p.OriginalTransactionID,
		PurchaseToken:         p.PurchaseToken,
		StartDate:             p.PurchaseDate,
		EndDate:               end,
		AutoRenew:             autoRenew,
		Provenance:            f.Provenance,
	}
	if f.Product != nil {
		order.PlanType = f.Product.PlanType
		order.Amount = f.Product.Price
		order.Currency = f.Product.Currency
	}
	effects := []Effect{order}

	at := f.timestamp()
	if cur.Status == StatusRevoked && !foreign(cur, f) {
		return cur, effects
	}
	if isStale(cur, at) {
		next, extended := applyStaleCharge(cur, f, end)
		if extended {
			effects = append(effects, ExtendEndDate{EndDate: end})
		}
		return next, effects
	}

	next := cur
	next.OriginalTransactionID = p.OriginalTransactionID
	next.Platform = f.Platform
	next.PlanType = order.PlanType
	next.EndDate = &end
	next.AutoRenew = autoRenew
	stamp(&next, at)

	if end.After(f.Now) {
		next.Status = StatusActive
		effects = append(effects, ExtendEndDate{EndDate: end})
	} else {
		next.Status = StatusExpired
	}
	if next.AutoRenew != cur.AutoRenew || next.OriginalTransactionID != cur.OriginalTransactionID {
		effects = append(effects, SetAutoRenew{OriginalTransactionID: next.OriginalTransactionID, AutoRenew: next.AutoRenew})
	}
	return next, effects
}

// applyStaleCharge keeps the newer auto-renew and cancellation state of a
// charge that arrived late, but the period it paid for is never lost.
func applyStaleCharge(cur Subscription, f Fact, end time.Time) (Subscription, bool) {
	if foreign(cur, f) || (cur.EndDate != nil && !end.After(*cur.EndDate)) {
		return cur, false
	}

	next := cur
	next.EndDate = &end
	if next.Status == StatusExpired && end.After(f.Now) {
		// 已被过期扫描处理，按续订状态恢复权益
		if next.AutoRenew {
			next.Status = StatusActive
		} else {
			next.Status = StatusCancelled
		}
	}
	return next, true
}

func applyCancelled(cur Subscription, f Fact) (Subscription, []Effect) {
	at := f.timestamp()
	if foreign(cur, f) || isStale(cur, at) {
		return cur, nil
	}
	if cur.Status != StatusActive && cur.Status != StatusGrace {
		return cur, nil
	}

	next := cur
	next.Status = StatusCancelled
	next.AutoRenew = false
	stamp(&next, at)
	return next, []Effect{
		SetAutoRenew{OriginalTransactionID: next.OriginalTransactionID, AutoRenew: false},
		RecordCancellation{OriginalTransactionID: next.OriginalTransactionID, Reason: f.Reason, At: f.Now},
	}
}

func applyRenewalStatus(cur Subscription, f Fact) (Subscription, []Effect) {
	at := f.timestamp()
	if f.Purchase == nil || foreign(cur, f) || isStale(cur, at) {
		return cur, nil
	}
	switch cur.Status {
	case StatusActive, StatusGrace, StatusCancelled:
	default:
		return cur, nil
	}

	next := cur
	var effects []Effect
	autoRenew := f.Purchase.AutoRenewing
	if autoRenew != cur.AutoRenew {
		next.AutoRenew = autoRenew
		effects = append(effects, SetAutoRenew{OriginalTransactionID: next.OriginalTransactionID, AutoRenew: autoRenew})
	}
	switch {
	case autoRenew && cur.Status == StatusCancelled:
		next.Status = StatusActive
	case !autoRenew && cur.Status != StatusCancelled:
		next.Status = StatusCancelled
		effects = append(effects, RecordCancellation{OriginalTransactionID: next.OriginalTransactionID, Reason: f.Reason, At: f.Now})
	}
	// A deferred renewal moves the expiry forward without a charge.
	if exp := f.Purchase.ExpiryDate; exp != nil && (next.EndDate == nil || exp.After(*next.EndDate)) {
		end := *exp
		next.EndDate = &end
		effects = append(effects, ExtendEndDate{EndDate: end})
	}
	stamp(&next, at)
	return next, effects
}

func applyRestarted(cur Subscription, f Fact) (Subscription, []Effect) {
	at := f.timestamp()
	if foreign(cur, f) || isStale(cur, at) || cur.Status != StatusCancelled {
		return cur, nil
	}
	next := cur
	next.Status = StatusActive
	next.AutoRenew = true
	stamp(&next, at)
	return next, []Effect{SetAutoRenew{OriginalTransactionID: next.OriginalTransactionID, AutoRenew: true}}
}

func applyGrace(cur Subscription, f Fact) (Subscription, []Effect) {
	at := f.timestamp()
	if foreign(cur, f) || isStale(cur, at) || cur.Status != StatusActive {
		return cur, nil
	}
	next := cur
	next.Status = StatusGrace
	stamp(&next, at)

	var effects []Effect
	if f.Purchase != nil && f.Purchase.ExpiryDate != nil {
		exp := *f.Purchase.ExpiryDate
		if next.EndDate == nil || exp.After(*next.EndDate) {
			next.EndDate = &exp
			effects = append(effects, ExtendEndDate{EndDate: exp})
		}
	}
	return next, effects
}

func applyExpired(cur Subscription, f Fact) (Subscription, []Effect) {
	at := f.timestamp()
	if foreign(cur, f) || isStale(cur, at) {
		return cur, nil
	}
	switch cur.Status {
	case StatusExpired, StatusRevoked, StatusNone:
		return cur, nil
	}

	next := cur
	next.Status = StatusExpired
	next.AutoRenew = false
	if next.EndDate == nil || next.EndDate.After(f.Now) {
		end := f.Now
		next.EndDate = &end
	}
	stamp(&next, at)

	var effects []Effect
	if cur.AutoRenew {
		effects = append(effects, SetAutoRenew{OriginalTransactionID: next.OriginalTransactionID, AutoRenew: false})
	}
	return next, effects
}

func applyRevoked(cur Subscription, f Fact) (Subscription, []Effect) {
	at := f.timestamp()
	void := VoidCommission{OrderID: f.RefundOrderID, OriginalTransactionID: f.lineage(), At: f.Now}
	if void.OriginalTransactionID == "" {
		void.OriginalTransactionID = cur.OriginalTransactionID
	}
	if foreign(cur, f) {
		// A refund on an older lineage voids that revenue but leaves the
		// current entitlement alone.
		return cur, []Effect{void}
	}

	next := cur
	next.Status = StatusRevoked
	next.AutoRenew = false
	if next.EndDate == nil || next.EndDate.After(f.Now) {
		end := f.Now
		next.EndDate = &end
	}
	stamp(&next, at)
	return next, []Effect{RevokeAccess{At: f.Now}, void}
}
