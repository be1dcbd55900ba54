package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"subscription-api/internal/models"
	"subscription-api/internal/platform"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommissionAmount(t *testing.T) {
	cases := []struct {
		amount, rate, currency, want string
	}{
		{"9.99", "30", "USD", "3.00"},
		{"24.99", "30", "USD", "7.50"},
		{"79.99", "12.5", "EUR", "10.00"},
		{"0.05", "10", "USD", "0.01"},
		{"999", "33.33", "JPY", "333"},
	}
	for _, tc := range cases {
		t.Run(tc.amount+"x"+tc.rate, func(t *testing.T) {
			got := CommissionAmount(decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.rate), tc.currency)
			assert.Equal(t, tc.want, got.StringFixed(minorUnits(tc.currency)))
		})
	}
}

type commissionFixture struct {
	env     *testEnv
	service *CommissionService
	alpha   *models.Distributor
	beta    *models.Distributor
}

func newCommissionFixture(t *testing.T) *commissionFixture {
	t.Helper()
	env := newTestEnv(t)
	alpha := &models.Distributor{Name: "Alpha", Code: "ALPHA", Status: models.DistributorActive}
	beta := &models.Distributor{
		Name:           "Beta",
		Code:           "BETA",
		Status:         models.DistributorActive,
		CommissionRate: decimal.NewNullDecimal(decimal.NewFromInt(50)),
	}
	require.NoError(t, env.store.CreateDistributor(alpha))
	require.NoError(t, env.store.CreateDistributor(beta))

	service := NewCommissionService(env.store, decimal.NewFromInt(30))
	service.now = func() time.Time { return base }
	return &commissionFixture{env: env, service: service, alpha: alpha, beta: beta}
}

var orderSeq int

func (f *commissionFixture) order(t *testing.T, distributor *models.Distributor, amount, platformName, status string, created time.Time) *models.Order {
	t.Helper()
	orderSeq++
	order := &models.Order{
		BaseModel:             models.BaseModel{CreatedAt: created},
		UserID:                1,
		OrderNo:               fmt.Sprintf("SUB-TEST-%d", orderSeq),
		Amount:                decimal.RequireFromString(amount),
		Currency:              "USD",
		Status:                status,
		Platform:              platformName,
		ProductID:             "vip_monthly",
		OriginalTransactionID: fmt.Sprintf("L-%d", orderSeq),
		PlatformTransactionID: fmt.Sprintf("tx-%d", orderSeq),
	}
	if distributor != nil {
		order.DistributorID = &distributor.ID
	}
	require.NoError(t, f.env.store.CreateOrder(order))
	return order
}

func TestDistributorCommissionUsesOwnOrDefaultRate(t *testing.T) {
	f := newCommissionFixture(t)
	f.order(t, f.alpha, "9.99", platform.AppStore, models.OrderStatusPaid, base)
	f.order(t, f.alpha, "9.99", platform.GooglePlay, models.OrderStatusPaid, base)
	f.order(t, f.alpha, "79.99", platform.AppStore, models.OrderStatusRefunded, base)
	f.order(t, f.beta, "9.99", platform.AppStore, models.OrderStatusPaid, base)

	alpha, err := f.service.DistributorCommission(context.Background(), f.alpha.ID, DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 2, alpha.OrderCount, "refunded orders are excluded")
	assert.Equal(t, "19.98", alpha.Revenue.StringFixed(2))
	assert.Equal(t, "6.00", alpha.Commission.StringFixed(2))
	assert.Equal(t, "30", alpha.Orders[0].Rate.String())

	beta, err := f.service.DistributorCommission(context.Background(), f.beta.ID, DateRange{})
	require.NoError(t, err)
	assert.Equal(t, "5.00", beta.Commission.StringFixed(2))
}

func TestPasscodeAndBookCommission(t *testing.T) {
	f := newCommissionFixture(t)
	passcode, book := uint(11), uint(22)

	order := f.order(t, f.beta, "24.99", platform.AppStore, models.OrderStatusPaid, base)
	require.NoError(t, f.env.store.DB().Model(order).Updates(map[string]interface{}{
		"source_passcode_id": passcode,
		"source_book_id":     book,
	}).Error)

	byPasscode, err := f.service.PasscodeCommission(context.Background(), passcode, DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 1, byPasscode.OrderCount)
	assert.Equal(t, "12.50", byPasscode.Commission.StringFixed(2))

	byBook, err := f.service.BookCommission(context.Background(), book, DateRange{})
	require.NoError(t, err)
	assert.Equal(t, "book", byBook.Scope)
	assert.Equal(t, 1, byBook.OrderCount)

	empty, err := f.service.BookCommission(context.Background(), 999, DateRange{})
	require.NoError(t, err)
	assert.Zero(t, empty.OrderCount)
	assert.True(t, empty.Commission.IsZero())
}

func TestCommissionDateRange(t *testing.T) {
	f := newCommissionFixture(t)
	f.order(t, f.alpha, "9.99", platform.AppStore, models.OrderStatusPaid, base.AddDate(0, 0, -10))
	f.order(t, f.alpha, "9.99", platform.AppStore, models.OrderStatusPaid, base)

	from := base.AddDate(0, 0, -1)
	summary, err := f.service.DistributorCommission(context.Background(), f.alpha.ID, DateRange{From: &from})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OrderCount)
}

func TestLeaderboardOrdersByCountThenRevenue(t *testing.T) {
	f := newCommissionFixture(t)
	gamma := &models.Distributor{Name: "Gamma", Code: "GAMMA", Status: models.DistributorActive}
	require.NoError(t, f.env.store.CreateDistributor(gamma))

	f.order(t, f.alpha, "9.99", platform.AppStore, models.OrderStatusPaid, base)
	f.order(t, f.alpha, "9.99", platform.AppStore, models.OrderStatusPaid, base)
	f.order(t, f.beta, "79.99", platform.AppStore, models.OrderStatusPaid, base)
	f.order(t, f.beta, "9.99", platform.AppStore, models.OrderStatusPaid, base)
	f.order(t, gamma, "79.99", platform.AppStore, models.OrderStatusPaid, base)
	f.order(t, nil, "79.99", platform.AppStore, models.OrderStatusPaid, base)

	entries, err := f.service.Leaderboard(context.Background(), DateRange{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "BETA", entries[0].Code, "equal counts break on revenue")
	assert.Equal(t, "ALPHA", entries[1].Code)
	assert.Equal(t, "GAMMA", entries[2].Code)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "45.00", entries[0].Commission.StringFixed(2))

	top, err := f.service.Leaderboard(context.Background(), DateRange{}, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestRevenueTrendFillsEmptyDays(t *testing.T) {
	f := newCommissionFixture(t)
	f.order(t, nil, "9.99", platform.AppStore, models.OrderStatusPaid, base.AddDate(0, 0, -2))
	f.order(t, nil, "24.99", platform.AppStore, models.OrderStatusPaid, base.AddDate(0, 0, -2))
	f.order(t, nil, "9.99", platform.AppStore, models.OrderStatusPaid, base)

	from := base.AddDate(0, 0, -3).Truncate(24 * time.Hour)
	to := base.AddDate(0, 0, 1).Truncate(24 * time.Hour)
	points, err := f.service.RevenueTrend(context.Background(), DateRange{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.Equal(t, "2025-02-26", points[0].Date)
	assert.Zero(t, points[0].OrderCount)
	assert.Equal(t, 2, points[1].OrderCount)
	assert.Equal(t, "34.98", points[1].Revenue.StringFixed(2))
	assert.Equal(t, "9.99", points[3].Revenue.StringFixed(2))
}

func TestPlatformDistribution(t *testing.T) {
	f := newCommissionFixture(t)
	f.order(t, nil, "9.99", platform.AppStore, models.OrderStatusPaid, base)
	f.order(t, nil, "9.99", platform.AppStore, models.OrderStatusPaid, base)
	f.order(t, nil, "24.99", platform.GooglePlay, models.OrderStatusPaid, base)
	f.order(t, nil, "24.99", platform.GooglePlay, models.OrderStatusRefunded, base)

	shares, err := f.service.PlatformDistribution(context.Background(), DateRange{})
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, platform.AppStore, shares[0].Platform)
	assert.Equal(t, "66.67", shares[0].Percentage.StringFixed(2))
	assert.Equal(t, "33.33", shares[1].Percentage.StringFixed(2))
	assert.Equal(t, "24.99", shares[1].Revenue.StringFixed(2))
}
