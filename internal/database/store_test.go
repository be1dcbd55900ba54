package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"subscription-api/internal/lifecycle"
	"subscription-api/internal/models"
	"subscription-api/internal/platform"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	require.NoError(t, SeedDefaults(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewStore(db)
}

func TestClaimTransactionIsFirstWriterWins(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	claim, claimed, err := store.ClaimTransaction("tx-1", "lineage-1", platform.AppStore, "vip_monthly", now)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NotZero(t, claim.ID)

	again, claimed, err := store.ClaimTransaction("tx-1", "lineage-1", platform.AppStore, "vip_monthly", now)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Nil(t, again)
}

func TestConcurrentClaimsOnlyOneWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Transaction(ctx, func(tx *Store) error {
				_, claimed, err := tx.ClaimTransaction("tx-race", "lineage", platform.GooglePlay, "vip_monthly", time.Now().UTC())
				if err != nil {
					return err
				}
				if claimed {
					mu.Lock()
					wins++
					mu.Unlock()
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRolledBackClaimCanBeRetried(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Transaction(ctx, func(tx *Store) error {
		_, claimed, err := tx.ClaimTransaction("tx-1", "lineage-1", platform.AppStore, "", time.Now().UTC())
		require.NoError(t, err)
		require.True(t, claimed)
		return boom
	})
	require.ErrorIs(t, err, boom)

	claim, err := store.FindClaim("tx-1")
	require.NoError(t, err)
	assert.Nil(t, claim)

	_, claimed, err := store.ClaimTransaction("tx-1", "lineage-1", platform.AppStore, "", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, claimed)
}

func createOrder(t *testing.T, store *Store, userID uint, txID, lineage string) *models.Order {
	t.Helper()
	order := &models.Order{
		UserID:                userID,
		OrderNo:               "SUB" + txID,
		Amount:                decimal.RequireFromString("9.99"),
		Currency:              "USD",
		Status:                models.OrderStatusPaid,
		Platform:              platform.AppStore,
		ProductID:             "vip_monthly",
		OriginalTransactionID: lineage,
		PlatformTransactionID: txID,
	}
	require.NoError(t, store.CreateOrder(order))
	return order
}

func TestAttachOrderAndLineageLookups(t *testing.T) {
	store := newTestStore(t)
	user := &models.User{Email: "reader@example.com"}
	require.NoError(t, store.CreateUser(user))

	claim, _, err := store.ClaimTransaction("tx-1", "lineage-1", platform.AppStore, "vip_monthly", time.Now().UTC())
	require.NoError(t, err)
	first := createOrder(t, store, user.ID, "tx-1", "lineage-1")
	require.NoError(t, store.AttachOrder(claim.ID, first.ID))
	second := createOrder(t, store, user.ID, "tx-2", "lineage-1")

	stored, err := store.FindClaim("tx-1")
	require.NoError(t, err)
	require.NotNil(t, stored.OrderID)
	assert.Equal(t, first.ID, *stored.OrderID)

	owner, err := store.FirstOrderInLineage("lineage-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, owner.ID)

	latest, err := store.LatestPaidOrderInLineage("lineage-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	missing, err := store.FirstOrderInLineage("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRefundOrder(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	first := createOrder(t, store, 1, "tx-1", "lineage-1")
	second := createOrder(t, store, 1, "tx-2", "lineage-1")

	refunded, err := store.RefundOrder(0, "lineage-1", now)
	require.NoError(t, err)
	require.NotNil(t, refunded)
	assert.Equal(t, second.ID, refunded.ID)

	refunded, err = store.RefundOrder(first.ID, "", now)
	require.NoError(t, err)
	require.NotNil(t, refunded)

	// refunding twice is a no-op
	refunded, err = store.RefundOrder(first.ID, "", now)
	require.NoError(t, err)
	assert.Nil(t, refunded)

	paid, err := store.ListPaidOrders(OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, paid)
}

func TestSaveSubscriptionAndListExpirable(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	users := map[lifecycle.Status]*time.Time{
		lifecycle.StatusActive:    &past,
		lifecycle.StatusCancelled: &past,
		lifecycle.StatusGrace:     &past,
		lifecycle.StatusExpired:   &past,
		lifecycle.StatusRevoked:   &past,
	}
	expected := map[uint]bool{}
	for status, end := range users {
		user := &models.User{Email: fmt.Sprintf("%s@example.com", status)}
		require.NoError(t, store.CreateUser(user))
		user.Subscription = lifecycle.Subscription{Status: status, EndDate: end, PlanType: "monthly"}
		require.NoError(t, store.SaveSubscription(user))
		if status == lifecycle.StatusActive || status == lifecycle.StatusCancelled || status == lifecycle.StatusGrace {
			expected[user.ID] = true
		}
	}
	live := &models.User{Email: "live@example.com"}
	require.NoError(t, store.CreateUser(live))
	live.Subscription = lifecycle.Subscription{Status: lifecycle.StatusActive, EndDate: &future}
	live.IsSvip = true
	require.NoError(t, store.SaveSubscription(live))

	ids, err := store.ListExpirableUserIDs(now, 0, 100)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	for _, id := range ids {
		assert.True(t, expected[id])
	}

	reloaded, err := store.FindUser(live.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsSvip)
	assert.Equal(t, lifecycle.StatusActive, reloaded.Subscription.Status)
	assert.Equal(t, "live@example.com", reloaded.Email)
}

func TestFindProductByStoreID(t *testing.T) {
	store := newTestStore(t)

	product, err := store.FindProductByStoreID(platform.AppStore, "vip_monthly")
	require.NoError(t, err)
	require.NotNil(t, product)
	assert.Equal(t, 30, product.DurationDays)
	assert.Equal(t, "9.99", product.Price.StringFixed(2))

	product, err = store.FindProductByStoreID(platform.GooglePlay, "unknown")
	require.NoError(t, err)
	assert.Nil(t, product)

	products, err := store.ListProducts(platform.GooglePlay)
	require.NoError(t, err)
	assert.Len(t, products, 3)
}

func TestClassifyConflicts(t *testing.T) {
	assert.ErrorIs(t, classify(&pgconn.PgError{Code: "40P01"}), ErrPersistenceConflict)
	assert.ErrorIs(t, classify(&pgconn.PgError{Code: "55P03"}), ErrPersistenceConflict)
	assert.NotErrorIs(t, classify(&pgconn.PgError{Code: "23505"}), ErrPersistenceConflict)
	assert.ErrorIs(t, classify(errors.New("database is locked")), ErrPersistenceConflict)
	assert.Nil(t, classify(nil))
}

func TestRemediationQueue(t *testing.T) {
	store := newTestStore(t)
	item := &models.RemediationItem{Platform: platform.AppStore, Kind: models.RemediationDecode, Payload: "{}"}
	require.NoError(t, store.CreateRemediation(item))

	open, err := store.ListRemediation(models.RemediationOpen, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, store.RecordRemediationAttempt(item.ID, true, "", time.Now().UTC()))
	reloaded, err := store.FindRemediation(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RemediationResolved, reloaded.Status)
	assert.Equal(t, 1, reloaded.Attempts)
}
