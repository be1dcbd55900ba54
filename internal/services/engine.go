package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"subscription-api/internal/database"
	"subscription-api/internal/lifecycle"
	"subscription-api/internal/metrics"
	"subscription-api/internal/models"
	"subscription-api/internal/platform"
	"subscription-api/pkg/logging"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Notifier pushes subscription changes to downstream systems.
type Notifier interface {
	NotifySubscriptionChange(change SubscriptionChange)
}

// SubscriptionChange describes a committed state transition.
type SubscriptionChange struct {
	UserID                uint
	AppAccountToken       string
	Platform              string
	EventType             string
	TransactionID         string
	OriginalTransactionID string
	ProductID             string
	Previous              lifecycle.Status
	Subscription          lifecycle.Subscription
	IsSvip                bool
	OccurredAt            time.Time
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	MaxRetries int
	Metrics    *metrics.Metrics
	Notifier   Notifier
	Now        func() time.Time
}

// Engine applies lifecycle facts to the database: claim, lock, decide,
// persist effects, all in one transaction retried on lock contention.
type Engine struct {
	store      *database.Store
	orderNo    *OrderNumberGenerator
	maxRetries int
	metrics    *metrics.Metrics
	notifier   Notifier
	now        func() time.Time
}

// NewEngine creates an engine
func NewEngine(store *database.Store, orderNo *OrderNumberGenerator, opts EngineOptions) *Engine {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Engine{
		store:      store,
		orderNo:    orderNo,
		maxRetries: maxRetries,
		metrics:    opts.Metrics,
		notifier:   opts.Notifier,
		now:        now,
	}
}

// commitRequest is one unit of work for the engine.
type commitRequest struct {
	// ClaimKey is the idempotency key; empty skips the claim (sweeper, internal cancel).
	ClaimKey  string
	Lineage   string
	Platform  string
	ProductID string
	// UserID is the known owner; zero resolves it from the lineage.
	UserID              uint
	AppAccountToken     string
	RefundTransactionID string
	TransactionID       string
	Fact                lifecycle.Fact
	Event               models.SubscriptionEvent
	// RecordOnChangeOnly suppresses the audit row when nothing moved.
	RecordOnChangeOnly bool
}

type commitResult struct {
	User     *models.User
	Order    *models.Order
	Previous lifecycle.Subscription
	Changed  bool
}

func (r commitRequest) describe() string {
	if r.ClaimKey != "" {
		return r.ClaimKey
	}
	return fmt.Sprintf("user %d %s", r.UserID, r.Fact.Event)
}

// commit runs req in a transaction. ErrPersistenceConflict is retried with
// exponential backoff; every other error aborts immediately.
func (e *Engine) commit(ctx context.Context, req commitRequest) (*commitResult, error) {
	var result *commitResult
	operation := func() error {
		err := e.store.Transaction(ctx, func(tx *database.Store) error {
			r, err := e.apply(tx, req)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if err == nil || errors.Is(err, database.ErrPersistenceConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.maxRetries)), ctx),
		func(err error, wait time.Duration) {
			e.metrics.PersistenceRetry()
			logging.Warnf("Persistence conflict on %s, retrying in %s: %v", req.describe(), wait, err)
		})
	if err != nil {
		return nil, err
	}

	if result.Changed && e.notifier != nil {
		e.notifier.NotifySubscriptionChange(SubscriptionChange{
			UserID:                result.User.ID,
			AppAccountToken:       result.User.AppAccountToken,
			Platform:              result.User.Subscription.Platform,
			EventType:             string(req.Fact.Event),
			TransactionID:         req.TransactionID,
			OriginalTransactionID: result.User.Subscription.OriginalTransactionID,
			ProductID:             req.ProductID,
			Previous:              result.Previous.Status,
			Subscription:          result.User.Subscription,
			IsSvip:                result.User.IsSvip,
			OccurredAt:            e.now(),
		})
	}
	return result, nil
}

func (e *Engine) apply(tx *database.Store, req commitRequest) (*commitResult, error) {
	now := e.now()

	// 无效的扣费不占用幂等记录，之后的有效投递仍可入账
	if p := req.Fact.Purchase; req.Fact.Event.IsCharge() && (p == nil || !p.Valid) {
		return nil, fmt.Errorf("%w: charge %s is not a valid purchase", platform.ErrVerificationFailed, req.ClaimKey)
	}

	var claim *models.ProcessedTransaction
	if req.ClaimKey != "" {
		c, claimed, err := tx.ClaimTransaction(req.ClaimKey, req.Lineage, req.Platform, req.ProductID, now)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, ErrDuplicateTransaction
		}
		claim = c
	}

	userID := req.UserID
	if userID == 0 {
		id, err := e.resolveOwner(tx, req)
		if err != nil {
			return nil, err
		}
		userID = id
	}
	user, err := tx.LockUser(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}

	fact := req.Fact
	fact.Now = now
	if err := e.enrichFact(tx, req, &fact); err != nil {
		return nil, err
	}

	previous := user.Subscription
	next, effects := lifecycle.Apply(previous, fact)
	previousAccess := user.IsSvip

	order, err := e.applyEffects(tx, user, next, effects, now)
	if err != nil {
		return nil, err
	}

	user.Subscription = next
	user.IsSvip = next.HasAccess(now)
	if err := tx.SaveSubscription(user); err != nil {
		return nil, err
	}
	if claim != nil && order != nil {
		if err := tx.AttachOrder(claim.ID, order.ID); err != nil {
			return nil, err
		}
	}

	changed := subscriptionChanged(previous, next) || previousAccess != user.IsSvip
	if changed || order != nil || !req.RecordOnChangeOnly {
		event := req.Event
		event.UserID = &user.ID
		if order != nil {
			event.OrderID = &order.ID
		}
		if event.EventType == "" {
			event.EventType = string(fact.Event)
		}
		if event.Platform == "" {
			event.Platform = firstNonEmpty(req.Platform, next.Platform)
		}
		if event.OriginalTransactionID == "" {
			event.OriginalTransactionID = firstNonEmpty(req.Lineage, next.OriginalTransactionID)
		}
		event.Outcome = models.OutcomeApplied
		event.ProcessedAt = now
		if err := tx.RecordEvent(&event); err != nil {
			return nil, err
		}
	}

	return &commitResult{User: user, Order: order, Previous: previous, Changed: changed}, nil
}

// resolveOwner finds the user a lineage belongs to: the owner of its first
// order, then the user currently projecting it, then the app account token.
func (e *Engine) resolveOwner(tx *database.Store, req commitRequest) (uint, error) {
	if req.Lineage != "" {
		first, err := tx.FirstOrderInLineage(req.Lineage)
		if err != nil {
			return 0, err
		}
		if first != nil {
			return first.UserID, nil
		}
		user, err := tx.FindUserByLineage(req.Lineage)
		if err != nil {
			return 0, err
		}
		if user != nil {
			return user.ID, nil
		}
	}

	if token := req.AppAccountToken; token != "" {
		if _, err := uuid.Parse(token); err == nil {
			user, err := tx.FindUserByAppAccountToken(token)
			if err != nil {
				return 0, err
			}
			if user != nil {
				return user.ID, nil
			}
		} else if id, err := strconv.ParseUint(token, 10, 64); err == nil {
			// Google obfuscatedExternalAccountId carries the user id directly
			user, err := tx.FindUser(uint(id))
			if err != nil {
				return 0, err
			}
			if user != nil {
				return user.ID, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrLineageUnknown, req.Lineage)
}

func (e *Engine) enrichFact(tx *database.Store, req commitRequest, fact *lifecycle.Fact) error {
	if fact.Event.IsCharge() && fact.Purchase != nil {
		if fact.Product == nil {
			product, err := tx.FindProductByStoreID(req.Platform, fact.Purchase.ProductID)
			if err != nil {
				return err
			}
			if product == nil {
				return fmt.Errorf("%w: %s", ErrProductNotFound, fact.Purchase.ProductID)
			}
			fact.Product = catalogProduct(product)
		}
		// Renewals inherit the attribution of the purchase that started the lineage.
		if fact.Provenance.Empty() && req.Lineage != "" {
			first, err := tx.FirstOrderInLineage(req.Lineage)
			if err != nil {
				return err
			}
			if first != nil {
				fact.Provenance = provenanceOf(first)
			}
		}
	}

	if (fact.Event == platform.EventRefunded || fact.Event == platform.EventRevoked) &&
		fact.RefundOrderID == 0 && req.RefundTransactionID != "" {
		order, err := tx.FindOrderByPlatformTransactionID(req.RefundTransactionID)
		if err != nil {
			return err
		}
		if order != nil {
			fact.RefundOrderID = order.ID
		}
	}
	return nil
}

func (e *Engine) applyEffects(tx *database.Store, user *models.User, next lifecycle.Subscription, effects []lifecycle.Effect, now time.Time) (*models.Order, error) {
	var created *models.Order
	for _, effect := range effects {
		switch eff := effect.(type) {
		case lifecycle.CreateOrder:
			order := e.newOrder(user.ID, eff, now)
			if err := tx.CreateOrder(order); err != nil {
				return nil, err
			}
			e.metrics.OrderCreated(eff.Platform)
			created = order
		case lifecycle.ExtendEndDate:
			if created == nil && next.OriginalTransactionID != "" {
				if err := tx.ExtendLineageEndDate(next.OriginalTransactionID, eff.EndDate); err != nil {
					return nil, err
				}
			}
		case lifecycle.SetAutoRenew:
			if err := tx.SetLineageAutoRenew(eff.OriginalTransactionID, eff.AutoRenew); err != nil {
				return nil, err
			}
		case lifecycle.RevokeAccess:
			user.IsSvip = false
		case lifecycle.VoidCommission:
			refunded, err := tx.RefundOrder(eff.OrderID, eff.OriginalTransactionID, eff.At)
			if err != nil {
				return nil, err
			}
			if refunded != nil {
				logging.Infof("Order %s refunded, commission voided", refunded.OrderNo)
			}
		case lifecycle.RecordCancellation:
			if err := tx.RecordCancellation(eff.OriginalTransactionID, eff.Reason, eff.At); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unhandled effect %T", effect)
		}
	}
	return created, nil
}

func (e *Engine) newOrder(userID uint, eff lifecycle.CreateOrder, now time.Time) *models.Order {
	start, end := eff.StartDate, eff.EndDate
	currency := eff.Currency
	if currency == "" {
		currency = "USD"
	}
	return &models.Order{
		UserID:                userID,
		OrderNo:               e.orderNo.Next(),
		Amount:                eff.Amount,
		Currency:              currency,
		Status:                models.OrderStatusPaid,
		Platform:              eff.Platform,
		ProductID:             eff.ProductID,
		PlanType:              eff.PlanType,
		OriginalTransactionID: eff.OriginalTransactionID,
		PlatformTransactionID: eff.TransactionID,
		PurchaseToken:         eff.PurchaseToken,
		SubscriptionStartDate: &start,
		SubscriptionEndDate:   &end,
		IsAutoRenew:           eff.AutoRenew,
		DistributorID:         eff.Provenance.DistributorID,
		SourcePasscodeID:      eff.Provenance.SourcePasscodeID,
		SourceBookID:          eff.Provenance.SourceBookID,
		SourceEntry:           eff.Provenance.SourceEntry,
		VerifiedAt:            &now,
	}
}

// recordStandalone writes an audit row outside any transaction. Used for
// duplicates and failures, where the unit of work was rolled back.
func (e *Engine) recordStandalone(ctx context.Context, event models.SubscriptionEvent) {
	event.ProcessedAt = e.now()
	if err := e.store.WithContext(ctx).RecordEvent(&event); err != nil {
		logging.Errorf("Failed to record %s event for %s: %v", event.Outcome, event.OriginalTransactionID, err)
	}
}

func subscriptionChanged(a, b lifecycle.Subscription) bool {
	return a.Status != b.Status ||
		a.AutoRenew != b.AutoRenew ||
		a.OriginalTransactionID != b.OriginalTransactionID ||
		!sameTime(a.EndDate, b.EndDate)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func catalogProduct(p *models.SubscriptionProduct) *lifecycle.Product {
	return &lifecycle.Product{
		ProductID:    p.ProductID,
		PlanType:     p.PlanType,
		DurationDays: p.DurationDays,
		Price:        p.Price,
		Currency:     p.Currency,
	}
}

func provenanceOf(o *models.Order) lifecycle.Provenance {
	return lifecycle.Provenance{
		DistributorID:    o.DistributorID,
		SourcePasscodeID: o.SourcePasscodeID,
		SourceBookID:     o.SourceBookID,
		SourceEntry:      o.SourceEntry,
	}
}
