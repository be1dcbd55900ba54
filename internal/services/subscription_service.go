package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription-api/internal/database"
	"subscription-api/internal/lifecycle"
	"subscription-api/internal/models"
	"subscription-api/internal/platform"
	"subscription-api/pkg/logging"

	"github.com/google/uuid"
)

// SubscriptionService is the query and command surface used by the rest of
// the product: status checks, the synchronous purchase flow and internal
// grants or cancellations.
type SubscriptionService struct {
	engine *Engine
	store  *database.Store
	apple  platform.AppleVerifier
	google platform.GoogleVerifier
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(engine *Engine, store *database.Store, apple platform.AppleVerifier, google platform.GoogleVerifier) *SubscriptionService {
	return &SubscriptionService{engine: engine, store: store, apple: apple, google: google}
}

// SubscriptionStatus is the read model returned to callers.
type SubscriptionStatus struct {
	UserID                uint             `json:"user_id"`
	IsSvip                bool             `json:"is_svip"`
	Status                lifecycle.Status `json:"status"`
	PlanType              string           `json:"plan_type,omitempty"`
	EndDate               *time.Time       `json:"end_date,omitempty"`
	AutoRenew             bool             `json:"auto_renew"`
	Platform              string           `json:"platform,omitempty"`
	OriginalTransactionID string           `json:"original_transaction_id,omitempty"`
	DaysRemaining         int              `json:"days_remaining"`
}

// GetSubscriptionStatus returns the projected subscription of a user.
func (s *SubscriptionService) GetSubscriptionStatus(ctx context.Context, userID uint) (*SubscriptionStatus, error) {
	user, err := s.store.WithContext(ctx).FindUser(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}

	now := s.engine.now()
	sub := user.Subscription
	if sub.Status == "" {
		sub.Status = lifecycle.StatusNone
	}
	status := &SubscriptionStatus{
		UserID:                user.ID,
		IsSvip:                sub.HasAccess(now),
		Status:                sub.Status,
		PlanType:              sub.PlanType,
		EndDate:               sub.EndDate,
		AutoRenew:             sub.AutoRenew,
		Platform:              sub.Platform,
		OriginalTransactionID: sub.OriginalTransactionID,
	}
	if status.IsSvip {
		status.DaysRemaining = int(sub.EndDate.Sub(now).Hours() / 24)
	}
	return status, nil
}

// IsSubscriptionValid reports whether the user currently has access. The end
// date is checked against the clock, so an overdue sweep never grants access.
func (s *SubscriptionService) IsSubscriptionValid(ctx context.Context, userID uint) (bool, error) {
	status, err := s.GetSubscriptionStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	return status.IsSvip, nil
}

// CreateSubscriptionRequest grants a catalog product outside the stores,
// for example from a redeemed passcode.
type CreateSubscriptionRequest struct {
	UserID        uint                 `json:"user_id" binding:"required"`
	ProductID     string               `json:"product_id" binding:"required"`
	Platform      string               `json:"platform"`
	TransactionID string               `json:"transaction_id"`
	Provenance    lifecycle.Provenance `json:"provenance"`
}

// CreateSubscription records a paid order for the product and activates the
// subscription for its catalog duration. A repeated transaction id returns
// the order it already produced.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*PurchaseResult, error) {
	product, err := s.store.WithContext(ctx).FindProduct(req.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, req.ProductID)
	}

	transactionID := req.TransactionID
	if transactionID == "" {
		transactionID = "MANUAL_" + uuid.NewString()
	}
	platformName := req.Platform
	if platformName == "" {
		platformName = "Manual"
	}
	now := s.engine.now()
	purchase := &platform.PurchaseFact{
		OriginalTransactionID: transactionID,
		TransactionID:         transactionID,
		ProductID:             product.ProductID,
		PurchaseDate:          now,
		Valid:                 true,
	}

	result, err := s.engine.commit(ctx, commitRequest{
		ClaimKey:      transactionID,
		Lineage:       transactionID,
		Platform:      platformName,
		ProductID:     product.ProductID,
		UserID:        req.UserID,
		TransactionID: transactionID,
		Fact: lifecycle.Fact{
			Event:      platform.EventPurchased,
			Platform:   platformName,
			Purchase:   purchase,
			Product:    catalogProduct(product),
			Provenance: req.Provenance,
			OccurredAt: now,
		},
		Event: models.SubscriptionEvent{RawType: "MANUAL_GRANT"},
	})
	if errors.Is(err, ErrDuplicateTransaction) {
		order, findErr := s.store.WithContext(ctx).FindOrderByPlatformTransactionID(transactionID)
		if findErr != nil {
			return nil, findErr
		}
		return &PurchaseResult{Order: order, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}
	logging.Infof("Granted %s to user %d as order %s", product.ProductID, req.UserID, result.Order.OrderNo)
	return &PurchaseResult{Order: result.Order}, nil
}

// VerifyPurchaseRequest is the synchronous purchase flow input. Receipt holds
// the base64 App Store receipt or the Play purchase token.
type VerifyPurchaseRequest struct {
	UserID     uint                 `json:"user_id" binding:"required"`
	Platform   string               `json:"platform" binding:"required"`
	Receipt    string               `json:"receipt" binding:"required"`
	ProductID  string               `json:"product_id" binding:"required"`
	Provenance lifecycle.Provenance `json:"provenance"`
}

// PurchaseResult is the outcome of VerifyPurchase.
type PurchaseResult struct {
	Order     *models.Order       `json:"order"`
	Status    *SubscriptionStatus `json:"subscription"`
	Duplicate bool                `json:"duplicate"`
}

// VerifyPurchase verifies a client-submitted purchase with its store and
// applies it. A purchase already applied through a webhook or an earlier
// call returns the existing order with Duplicate set.
func (s *SubscriptionService) VerifyPurchase(ctx context.Context, req VerifyPurchaseRequest) (*PurchaseResult, error) {
	purchase, err := s.verify(ctx, req)
	if err != nil {
		return nil, err
	}
	if !purchase.Valid {
		return nil, fmt.Errorf("%w: purchase %s is not active", platform.ErrVerificationFailed, purchase.TransactionID)
	}

	result, err := s.engine.commit(ctx, commitRequest{
		ClaimKey:        purchase.TransactionID,
		Lineage:         purchase.OriginalTransactionID,
		Platform:        req.Platform,
		ProductID:       purchase.ProductID,
		UserID:          req.UserID,
		AppAccountToken: purchase.AppAccountToken,
		TransactionID:   purchase.TransactionID,
		Fact: lifecycle.Fact{
			Event:      platform.EventPurchased,
			Platform:   req.Platform,
			Purchase:   purchase,
			Provenance: req.Provenance,
		},
		Event: models.SubscriptionEvent{RawType: "CLIENT_VERIFY"},
	})

	out := &PurchaseResult{}
	switch {
	case errors.Is(err, ErrDuplicateTransaction):
		order, findErr := s.store.WithContext(ctx).FindOrderByPlatformTransactionID(purchase.TransactionID)
		if findErr != nil {
			return nil, findErr
		}
		out.Order = order
		out.Duplicate = true
	case err != nil:
		return nil, err
	default:
		out.Order = result.Order
	}

	if req.Platform == platform.GooglePlay && !purchase.Acknowledged && s.google != nil {
		if err := s.google.Acknowledge(ctx, purchase.PurchaseToken, purchase.ProductID); err != nil {
			logging.Warnf("Failed to acknowledge Google purchase %s: %v", purchase.TransactionID, err)
		}
	}

	status, err := s.GetSubscriptionStatus(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	out.Status = status
	return out, nil
}

func (s *SubscriptionService) verify(ctx context.Context, req VerifyPurchaseRequest) (*platform.PurchaseFact, error) {
	switch req.Platform {
	case platform.AppStore:
		if s.apple != nil {
			return s.apple.VerifyReceipt(ctx, req.Receipt, req.ProductID)
		}
	case platform.GooglePlay:
		if s.google != nil {
			return s.google.VerifyPurchase(ctx, req.Receipt, req.ProductID)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, req.Platform)
}

// CancelSubscription turns auto-renew off. Access continues until the end date.
func (s *SubscriptionService) CancelSubscription(ctx context.Context, userID uint, reason string) (*SubscriptionStatus, error) {
	user, err := s.store.WithContext(ctx).FindUser(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	sub := user.Subscription
	if sub.Status != lifecycle.StatusActive && sub.Status != lifecycle.StatusGrace {
		return nil, ErrNoActiveSubscription
	}

	if reason == "" {
		reason = "user_cancelled"
	}
	_, err = s.engine.commit(ctx, commitRequest{
		Lineage:  sub.OriginalTransactionID,
		Platform: sub.Platform,
		UserID:   userID,
		Fact: lifecycle.Fact{
			Event:                 platform.EventCancelled,
			Platform:              sub.Platform,
			OriginalTransactionID: sub.OriginalTransactionID,
			OccurredAt:            s.engine.now(),
			Reason:                reason,
		},
		Event: models.SubscriptionEvent{RawType: "INTERNAL_CANCEL"},
	})
	if err != nil {
		return nil, err
	}
	return s.GetSubscriptionStatus(ctx, userID)
}

// ListProducts returns the active catalog, optionally filtered to products
// sold on one platform.
func (s *SubscriptionService) ListProducts(ctx context.Context, platformName string) ([]models.SubscriptionProduct, error) {
	return s.store.WithContext(ctx).ListProducts(platformName)
}
