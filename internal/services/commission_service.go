package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"subscription-api/internal/database"
	"subscription-api/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
	"ISK": true,
}

// minorUnits returns the number of decimal places of a currency.
func minorUnits(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// CommissionAmount is amount × rate / 100 rounded half-up to the currency
// minor unit.
func CommissionAmount(amount, rate decimal.Decimal, currency string) decimal.Decimal {
	return amount.Mul(rate).Div(hundred).Round(minorUnits(currency))
}

// CommissionService computes distributor commission over paid orders.
// Refunded orders drop out of every figure.
type CommissionService struct {
	store       *database.Store
	defaultRate decimal.Decimal
	now         func() time.Time
}

// NewCommissionService creates a commission service. defaultRate applies to
// distributors without their own rate.
func NewCommissionService(store *database.Store, defaultRate decimal.Decimal) *CommissionService {
	return &CommissionService{
		store:       store,
		defaultRate: defaultRate,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// DateRange bounds a report; nil ends are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// OrderCommission is one order's contribution.
type OrderCommission struct {
	OrderID       uint            `json:"order_id"`
	OrderNo       string          `json:"order_no"`
	UserID        uint            `json:"user_id"`
	Platform      string          `json:"platform"`
	ProductID     string          `json:"product_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Rate          decimal.Decimal `json:"rate"`
	Commission    decimal.Decimal `json:"commission"`
	DistributorID *uint           `json:"distributor_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CommissionSummary aggregates commission for one distributor, passcode or book.
type CommissionSummary struct {
	Scope      string            `json:"scope"`
	ScopeID    uint              `json:"scope_id"`
	OrderCount int               `json:"order_count"`
	Revenue    decimal.Decimal   `json:"revenue"`
	Commission decimal.Decimal   `json:"commission"`
	Orders     []OrderCommission `json:"orders"`
}

// DistributorCommission sums commission over a distributor's paid orders.
func (s *CommissionService) DistributorCommission(ctx context.Context, distributorID uint, r DateRange) (*CommissionSummary, error) {
	return s.summarize(ctx, "distributor", distributorID, database.OrderFilter{DistributorID: &distributorID, From: r.From, To: r.To})
}

// PasscodeCommission sums commission over orders attributed to a passcode.
func (s *CommissionService) PasscodeCommission(ctx context.Context, passcodeID uint, r DateRange) (*CommissionSummary, error) {
	return s.summarize(ctx, "passcode", passcodeID, database.OrderFilter{PasscodeID: &passcodeID, From: r.From, To: r.To})
}

// BookCommission sums commission over orders attributed to a book.
func (s *CommissionService) BookCommission(ctx context.Context, bookID uint, r DateRange) (*CommissionSummary, error) {
	return s.summarize(ctx, "book", bookID, database.OrderFilter{BookID: &bookID, From: r.From, To: r.To})
}

func (s *CommissionService) summarize(ctx context.Context, scope string, id uint, filter database.OrderFilter) (*CommissionSummary, error) {
	store := s.store.WithContext(ctx)
	orders, err := store.ListPaidOrders(filter)
	if err != nil {
		return nil, err
	}
	rates, err := s.ratesFor(store, orders)
	if err != nil {
		return nil, err
	}

	summary := &CommissionSummary{
		Scope:      scope,
		ScopeID:    id,
		Revenue:    decimal.Zero,
		Commission: decimal.Zero,
		Orders:     make([]OrderCommission, 0, len(orders)),
	}
	for _, o := range orders {
		rate := rates.rateOf(o)
		line := OrderCommission{
			OrderID:       o.ID,
			OrderNo:       o.OrderNo,
			UserID:        o.UserID,
			Platform:      o.Platform,
			ProductID:     o.ProductID,
			Amount:        o.Amount,
			Currency:      o.Currency,
			Rate:          rate,
			Commission:    CommissionAmount(o.Amount, rate, o.Currency),
			DistributorID: o.DistributorID,
			CreatedAt:     o.CreatedAt,
		}
		summary.Orders = append(summary.Orders, line)
		summary.OrderCount++
		summary.Revenue = summary.Revenue.Add(o.Amount)
		summary.Commission = summary.Commission.Add(line.Commission)
	}
	return summary, nil
}

type rateTable struct {
	byDistributor map[uint]models.Distributor
	fallback      decimal.Decimal
}

func (t rateTable) rateOf(o models.Order) decimal.Decimal {
	if o.DistributorID == nil {
		return t.fallback
	}
	if d, ok := t.byDistributor[*o.DistributorID]; ok && d.CommissionRate.Valid {
		return d.CommissionRate.Decimal
	}
	return t.fallback
}

func (s *CommissionService) ratesFor(store *database.Store, orders []models.Order) (rateTable, error) {
	seen := make(map[uint]bool)
	var ids []uint
	for _, o := range orders {
		if o.DistributorID != nil && !seen[*o.DistributorID] {
			seen[*o.DistributorID] = true
			ids = append(ids, *o.DistributorID)
		}
	}
	distributors, err := store.DistributorsByID(ids)
	if err != nil {
		return rateTable{}, err
	}
	return rateTable{byDistributor: distributors, fallback: s.defaultRate}, nil
}

// LeaderboardEntry ranks one distributor.
type LeaderboardEntry struct {
	Rank          int             `json:"rank"`
	DistributorID uint            `json:"distributor_id"`
	Name          string          `json:"name"`
	Code          string          `json:"code"`
	OrderCount    int             `json:"order_count"`
	Revenue       decimal.Decimal `json:"revenue"`
	Commission    decimal.Decimal `json:"commission"`
}

// Leaderboard ranks distributors by paid order count, then revenue.
func (s *CommissionService) Leaderboard(ctx context.Context, r DateRange, limit int) ([]LeaderboardEntry, error) {
	store := s.store.WithContext(ctx)
	orders, err := store.ListPaidOrders(database.OrderFilter{From: r.From, To: r.To})
	if err != nil {
		return nil, err
	}
	rates, err := s.ratesFor(store, orders)
	if err != nil {
		return nil, err
	}

	byID := make(map[uint]*LeaderboardEntry)
	for _, o := range orders {
		if o.DistributorID == nil {
			continue
		}
		entry, ok := byID[*o.DistributorID]
		if !ok {
			entry = &LeaderboardEntry{DistributorID: *o.DistributorID, Revenue: decimal.Zero, Commission: decimal.Zero}
			if d, found := rates.byDistributor[*o.DistributorID]; found {
				entry.Name, entry.Code = d.Name, d.Code
			}
			byID[*o.DistributorID] = entry
		}
		entry.OrderCount++
		entry.Revenue = entry.Revenue.Add(o.Amount)
		entry.Commission = entry.Commission.Add(CommissionAmount(o.Amount, rates.rateOf(o), o.Currency))
	}

	entries := make([]LeaderboardEntry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.OrderCount != b.OrderCount {
			return a.OrderCount > b.OrderCount
		}
		if !a.Revenue.Equal(b.Revenue) {
			return a.Revenue.GreaterThan(b.Revenue)
		}
		return a.DistributorID < b.DistributorID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// RevenuePoint is one day of the revenue trend.
type RevenuePoint struct {
	Date       string          `json:"date"`
	OrderCount int             `json:"order_count"`
	Revenue    decimal.Decimal `json:"revenue"`
}

// RevenueTrend returns daily paid revenue over the range, one point per UTC
// day including empty days. An open range defaults to the last 30 days.
func (s *CommissionService) RevenueTrend(ctx context.Context, r DateRange) ([]RevenuePoint, error) {
	to := s.now()
	if r.To != nil {
		to = *r.To
	}
	from := to.AddDate(0, 0, -30)
	if r.From != nil {
		from = *r.From
	}
	orders, err := s.store.WithContext(ctx).ListPaidOrders(database.OrderFilter{From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	const layout = "2006-01-02"
	byDay := make(map[string]*RevenuePoint)
	var points []RevenuePoint
	start := from.UTC().Truncate(24 * time.Hour)
	for day := start; day.Before(to); day = day.AddDate(0, 0, 1) {
		points = append(points, RevenuePoint{Date: day.Format(layout), Revenue: decimal.Zero})
	}
	for i := range points {
		byDay[points[i].Date] = &points[i]
	}
	for _, o := range orders {
		p, ok := byDay[o.CreatedAt.UTC().Format(layout)]
		if !ok {
			continue
		}
		p.OrderCount++
		p.Revenue = p.Revenue.Add(o.Amount)
	}
	return points, nil
}

// PlatformShare is one platform's slice of paid orders.
type PlatformShare struct {
	Platform   string          `json:"platform"`
	OrderCount int             `json:"order_count"`
	Revenue    decimal.Decimal `json:"revenue"`
	Percentage decimal.Decimal `json:"percentage"`
}

// PlatformDistribution splits paid orders by platform. Percentage is the
// share of order count, rounded to two places.
func (s *CommissionService) PlatformDistribution(ctx context.Context, r DateRange) ([]PlatformShare, error) {
	orders, err := s.store.WithContext(ctx).ListPaidOrders(database.OrderFilter{From: r.From, To: r.To})
	if err != nil {
		return nil, err
	}

	byPlatform := make(map[string]*PlatformShare)
	for _, o := range orders {
		share, ok := byPlatform[o.Platform]
		if !ok {
			share = &PlatformShare{Platform: o.Platform, Revenue: decimal.Zero}
			byPlatform[o.Platform] = share
		}
		share.OrderCount++
		share.Revenue = share.Revenue.Add(o.Amount)
	}

	total := decimal.NewFromInt(int64(len(orders)))
	shares := make([]PlatformShare, 0, len(byPlatform))
	for _, share := range byPlatform {
		share.Percentage = decimal.Zero
		if total.IsPositive() {
			share.Percentage = decimal.NewFromInt(int64(share.OrderCount)).Mul(hundred).Div(total).Round(2)
		}
		shares = append(shares, *share)
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].OrderCount != shares[j].OrderCount {
			return shares[i].OrderCount > shares[j].OrderCount
		}
		return shares[i].Platform < shares[j].Platform
	})
	return shares, nil
}
