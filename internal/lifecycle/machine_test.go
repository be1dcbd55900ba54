package lifecycle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-api/internal/platform"
)

var (
	t0      = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	monthly = &Product{ProductID: "vip_monthly", PlanType: "monthly", DurationDays: 30, Price: decimal.RequireFromString("9.99"), Currency: "USD"}
)

func timePtr(t time.Time) *time.Time { return &t }

func charge(event platform.EventType, txID string, purchase, expiry time.Time) Fact {
	return Fact{
		Event:    event,
		Platform: platform.AppStore,
		Purchase: &platform.PurchaseFact{
			OriginalTransactionID: "lineage-1",
			TransactionID:         txID,
			ProductID:             "vip_monthly",
			PurchaseDate:          purchase,
			ExpiryDate:            timePtr(expiry),
			AutoRenewing:          true,
			Valid:                 true,
		},
		Product: monthly,
		Now:     purchase.Add(time.Minute),
	}
}

func effectsOf[T Effect](effects []Effect) []T {
	var out []T
	for _, e := range effects {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestPurchaseActivates(t *testing.T) {
	next, effects := Apply(Subscription{}, charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 1, 0)))

	assert.Equal(t, StatusActive, next.Status)
	assert.Equal(t, "monthly", next.PlanType)
	assert.True(t, next.AutoRenew)
	assert.Equal(t, "lineage-1", next.OriginalTransactionID)
	require.NotNil(t, next.EndDate)
	assert.True(t, next.EndDate.Equal(t0.AddDate(0, 1, 0)))
	assert.True(t, next.HasAccess(t0.Add(time.Hour)))

	orders := effectsOf[CreateOrder](effects)
	require.Len(t, orders, 1)
	assert.Equal(t, "tx-1", orders[0].TransactionID)
	assert.Equal(t, "9.99", orders[0].Amount.StringFixed(2))
	assert.Len(t, effectsOf[ExtendEndDate](effects), 1)
	assert.Len(t, effectsOf[SetAutoRenew](effects), 1)
}

func TestNonRenewingProductUsesCatalogDuration(t *testing.T) {
	f := charge(platform.EventPurchased, "tx-1", t0, t0)
	f.Purchase.ExpiryDate = nil
	f.Purchase.AutoRenewing = false

	next, _ := Apply(Subscription{}, f)

	require.NotNil(t, next.EndDate)
	assert.True(t, next.EndDate.Equal(t0.AddDate(0, 0, 30)))
	assert.False(t, next.AutoRenew)
	assert.True(t, next.HasAccess(t0.AddDate(0, 0, 29)))
	assert.False(t, next.HasAccess(t0.AddDate(0, 0, 30)))
}

func TestLineageOrderingLatestTimestampWins(t *testing.T) {
	first := charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 1, 0))
	second := charge(platform.EventRenewed, "tx-2", t0.AddDate(0, 1, 0), t0.AddDate(0, 2, 0))
	third := charge(platform.EventRenewed, "tx-3", t0.AddDate(0, 2, 0), t0.AddDate(0, 3, 0))
	for _, f := range []*Fact{&first, &second, &third} {
		f.Now = t0.AddDate(0, 2, 1)
	}

	orders := [][]Fact{
		{first, second, third},
		{third, first, second},
		{second, third, first},
		{third, second, first},
	}
	for _, order := range orders {
		sub := Subscription{}
		created := 0
		for _, f := range order {
			var effects []Effect
			sub, effects = Apply(sub, f)
			created += len(effectsOf[CreateOrder](effects))
		}
		require.NotNil(t, sub.EndDate)
		assert.True(t, sub.EndDate.Equal(t0.AddDate(0, 3, 0)), "end date %s", sub.EndDate)
		assert.Equal(t, StatusActive, sub.Status)
		assert.Equal(t, 3, created, "stale charges still record their order")
	}
}

func TestCancelKeepsAccessUntilEndDate(t *testing.T) {
	sub, _ := Apply(Subscription{}, charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 1, 0)))

	next, effects := Apply(sub, Fact{
		Event:                 platform.EventCancelled,
		OriginalTransactionID: "lineage-1",
		OccurredAt:            t0.Add(24 * time.Hour),
		Now:                   t0.Add(24 * time.Hour),
		Reason:                "user request",
	})

	assert.Equal(t, StatusCancelled, next.Status)
	assert.False(t, next.AutoRenew)
	assert.True(t, next.HasAccess(t0.Add(48*time.Hour)))
	cancellations := effectsOf[RecordCancellation](effects)
	require.Len(t, cancellations, 1)
	assert.Equal(t, "user request", cancellations[0].Reason)

	// cancelled -> expired is time based
	expired, _ := Apply(next, Fact{Event: EventExpiryTick, Now: t0.AddDate(0, 1, 1)})
	assert.Equal(t, StatusExpired, expired.Status)
}

func TestRestartAndRenewalStatusToggle(t *testing.T) {
	sub, _ := Apply(Subscription{}, charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 1, 0)))
	sub, _ = Apply(sub, Fact{Event: platform.EventCancelled, Now: t0.Add(time.Hour), OccurredAt: t0.Add(time.Hour)})
	require.Equal(t, StatusCancelled, sub.Status)

	restarted, effects := Apply(sub, Fact{Event: platform.EventRestarted, Now: t0.Add(2 * time.Hour), OccurredAt: t0.Add(2 * time.Hour)})
	assert.Equal(t, StatusActive, restarted.Status)
	assert.True(t, restarted.AutoRenew)
	assert.Len(t, effectsOf[SetAutoRenew](effects), 1)

	off, _ := Apply(restarted, Fact{
		Event:      platform.EventRenewalStatusChanged,
		Purchase:   &platform.PurchaseFact{OriginalTransactionID: "lineage-1", AutoRenewing: false},
		OccurredAt: t0.Add(3 * time.Hour),
		Now:        t0.Add(3 * time.Hour),
	})
	assert.Equal(t, StatusCancelled, off.Status)

	on, _ := Apply(off, Fact{
		Event:      platform.EventRenewalStatusChanged,
		Purchase:   &platform.PurchaseFact{OriginalTransactionID: "lineage-1", AutoRenewing: true},
		OccurredAt: t0.Add(4 * time.Hour),
		Now:        t0.Add(4 * time.Hour),
	})
	assert.Equal(t, StatusActive, on.Status)
	assert.True(t, on.AutoRenew)
}

func TestGraceThenRecovery(t *testing.T) {
	sub, _ := Apply(Subscription{}, charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 1, 0)))

	graceEnd := t0.AddDate(0, 1, 16)
	grace, effects := Apply(sub, Fact{
		Event:      platform.EventGracePeriod,
		Purchase:   &platform.PurchaseFact{OriginalTransactionID: "lineage-1", ExpiryDate: &graceEnd},
		OccurredAt: t0.AddDate(0, 1, 0),
		Now:        t0.AddDate(0, 1, 0),
	})
	assert.Equal(t, StatusGrace, grace.Status)
	assert.True(t, grace.HasAccess(t0.AddDate(0, 1, 10)))
	assert.Len(t, effectsOf[ExtendEndDate](effects), 1)

	onHold, _ := Apply(sub, Fact{Event: platform.EventOnHold, OccurredAt: t0.AddDate(0, 1, 0), Now: t0.AddDate(0, 1, 0)})
	assert.Equal(t, StatusGrace, onHold.Status)

	recovered := charge(platform.EventRecovered, "tx-2", t0.AddDate(0, 1, 5), t0.AddDate(0, 2, 5))
	active, effects := Apply(grace, recovered)
	assert.Equal(t, StatusActive, active.Status)
	assert.Len(t, effectsOf[CreateOrder](effects), 1)
}

func TestRefundRevokesImmediately(t *testing.T) {
	sub, _ := Apply(Subscription{}, charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(1, 0, 0)))
	now := t0.Add(72 * time.Hour)

	next, effects := Apply(sub, Fact{
		Event:                 platform.EventRefunded,
		OriginalTransactionID: "lineage-1",
		RefundOrderID:         7,
		OccurredAt:            now,
		Now:                   now,
	})

	assert.Equal(t, StatusRevoked, next.Status)
	assert.False(t, next.HasAccess(now))
	assert.False(t, next.AutoRenew)
	require.NotNil(t, next.EndDate)
	assert.False(t, next.EndDate.After(now))
	assert.Len(t, effectsOf[RevokeAccess](effects), 1)
	voids := effectsOf[VoidCommission](effects)
	require.Len(t, voids, 1)
	assert.Equal(t, uint(7), voids[0].OrderID)

	// a late renewal for a revoked lineage records the charge only
	late := charge(platform.EventRenewed, "tx-9", now.Add(time.Hour), now.AddDate(0, 1, 0))
	after, effects := Apply(next, late)
	assert.Equal(t, StatusRevoked, after.Status)
	assert.Len(t, effectsOf[CreateOrder](effects), 1)
}

func TestRefundOfOtherLineageOnlyVoidsCommission(t *testing.T) {
	sub, _ := Apply(Subscription{}, charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 1, 0)))

	next, effects := Apply(sub, Fact{Event: platform.EventRevoked, OriginalTransactionID: "lineage-old", Now: t0.Add(time.Hour)})
	assert.Equal(t, StatusActive, next.Status)
	require.Len(t, effects, 1)
	assert.IsType(t, VoidCommission{}, effects[0])
}

func TestExpiredIsIdempotent(t *testing.T) {
	sub, _ := Apply(Subscription{}, charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 1, 0)))
	expiredAt := t0.AddDate(0, 1, 0)

	once, _ := Apply(sub, Fact{Event: platform.EventExpired, OccurredAt: expiredAt, Now: expiredAt})
	assert.Equal(t, StatusExpired, once.Status)

	twice, effects := Apply(once, Fact{Event: platform.EventExpired, OccurredAt: expiredAt, Now: expiredAt.Add(time.Hour)})
	assert.Equal(t, once, twice)
	assert.Empty(t, effects)

	ticked, effects := Apply(once, Fact{Event: EventExpiryTick, Now: expiredAt.Add(time.Hour)})
	assert.Equal(t, once, ticked)
	assert.Empty(t, effects)
}

func TestStaleNonChargeIgnored(t *testing.T) {
	sub, _ := Apply(Subscription{}, charge(platform.EventRenewed, "tx-2", t0.AddDate(0, 1, 0), t0.AddDate(0, 2, 0)))

	// An expiry reported before the renewal was charged must not undo it.
	next, effects := Apply(sub, Fact{Event: platform.EventExpired, OccurredAt: t0.AddDate(0, 0, 30), Now: t0.AddDate(0, 1, 1)})
	assert.Equal(t, sub, next)
	assert.Empty(t, effects)
}

func TestInvalidPurchaseIsIgnored(t *testing.T) {
	f := charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 1, 0))
	f.Purchase.Valid = false

	next, effects := Apply(Subscription{}, f)
	assert.Equal(t, StatusNone, next.Status)
	assert.Empty(t, effects)
}

func TestChargeAlreadyExpired(t *testing.T) {
	f := charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 1, 0))
	f.Now = t0.AddDate(0, 2, 0)

	next, effects := Apply(Subscription{}, f)
	assert.Equal(t, StatusExpired, next.Status)
	assert.Len(t, effectsOf[CreateOrder](effects), 1)
	assert.Empty(t, effectsOf[ExtendEndDate](effects))
}

func TestLateRenewalAfterCancelKeepsPaidPeriod(t *testing.T) {
	sub, _ := Apply(Subscription{}, charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 0, 30)))
	cancelAt := t0.AddDate(0, 0, 31)
	sub, _ = Apply(sub, Fact{
		Event:                 platform.EventCancelled,
		OriginalTransactionID: "lineage-1",
		OccurredAt:            cancelAt,
		Now:                   cancelAt,
	})
	require.Equal(t, StatusCancelled, sub.Status)

	late := charge(platform.EventRenewed, "tx-2", t0.AddDate(0, 0, 30), t0.AddDate(0, 0, 60))
	late.Now = cancelAt.Add(time.Hour)
	next, effects := Apply(sub, late)

	assert.Equal(t, StatusCancelled, next.Status, "the newer cancellation stands")
	assert.False(t, next.AutoRenew)
	require.NotNil(t, next.EndDate)
	assert.True(t, next.EndDate.Equal(t0.AddDate(0, 0, 60)))
	assert.True(t, next.HasAccess(t0.AddDate(0, 0, 45)))
	assert.True(t, next.LastEventAt.Equal(cancelAt))
	assert.Len(t, effectsOf[CreateOrder](effects), 1)
	extended := effectsOf[ExtendEndDate](effects)
	require.Len(t, extended, 1)
	assert.True(t, extended[0].EndDate.Equal(t0.AddDate(0, 0, 60)))

	// Already swept to expired before the renewal arrived.
	swept, _ := Apply(sub, Fact{Event: EventExpiryTick, Now: cancelAt})
	require.Equal(t, StatusExpired, swept.Status)
	restored, _ := Apply(swept, late)
	assert.Equal(t, StatusCancelled, restored.Status)
	assert.True(t, restored.HasAccess(t0.AddDate(0, 0, 45)))
}

func TestStaleChargeNeverShortensOrRestoresRevoked(t *testing.T) {
	sub, _ := Apply(Subscription{}, charge(platform.EventRenewed, "tx-2", t0.AddDate(0, 1, 0), t0.AddDate(0, 2, 0)))

	older := charge(platform.EventPurchased, "tx-1", t0, t0.AddDate(0, 1, 0))
	next, effects := Apply(sub, older)
	assert.Equal(t, sub, next)
	assert.Empty(t, effectsOf[ExtendEndDate](effects))

	revokedAt := t0.AddDate(0, 1, 2)
	revoked, _ := Apply(sub, Fact{Event: platform.EventRefunded, OriginalTransactionID: "lineage-1", OccurredAt: revokedAt, Now: revokedAt})
	late := charge(platform.EventRenewed, "tx-3", t0.AddDate(0, 1, 1), t0.AddDate(0, 3, 0))
	late.Now = revokedAt.Add(time.Hour)
	after, effects := Apply(revoked, late)
	assert.Equal(t, revoked, after)
	assert.Empty(t, effectsOf[ExtendEndDate](effects))
	assert.Len(t, effectsOf[CreateOrder](effects), 1)
}
