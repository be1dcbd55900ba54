package database

import (
	"errors"
	"fmt"
	"time"

	"subscription-api/internal/models"

	"gorm.io/gorm"
)

// OrderFilter narrows report queries over paid orders
type OrderFilter struct {
	DistributorID *uint
	PasscodeID    *uint
	BookID        *uint
	From          *time.Time
	To            *time.Time
}

// CreateOrder 创建订单
func (s *Store) CreateOrder(order *models.Order) error {
	if err := s.db.Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", classify(err))
	}
	return nil
}

func (s *Store) firstOrder(query *gorm.DB) (*models.Order, error) {
	var order models.Order
	err := query.First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindOrder returns the order by id, or nil
func (s *Store) FindOrder(id uint) (*models.Order, error) {
	return s.firstOrder(s.db.Where("id = ?", id))
}

// FindOrderByPlatformTransactionID 通过平台交易ID获取订单
func (s *Store) FindOrderByPlatformTransactionID(transactionID string) (*models.Order, error) {
	return s.firstOrder(s.db.Where("platform_transaction_id = ?", transactionID))
}

// FirstOrderInLineage returns the earliest order of a lineage. Its user owns
// the lineage and its provenance is inherited by renewals.
func (s *Store) FirstOrderInLineage(originalTransactionID string) (*models.Order, error) {
	return s.firstOrder(s.db.Where("original_transaction_id = ?", originalTransactionID).Order("id ASC"))
}

// LatestOrderInLineage 获取链路内最新订单
func (s *Store) LatestOrderInLineage(originalTransactionID string) (*models.Order, error) {
	return s.firstOrder(s.db.Where("original_transaction_id = ?", originalTransactionID).Order("id DESC"))
}

// LatestPaidOrderInLineage 获取链路内最新已支付订单
func (s *Store) LatestPaidOrderInLineage(originalTransactionID string) (*models.Order, error) {
	return s.firstOrder(s.db.
		Where("original_transaction_id = ? AND status = ?", originalTransactionID, models.OrderStatusPaid).
		Order("id DESC"))
}

// SetLineageAutoRenew records the auto-renew flag on the lineage's latest order
func (s *Store) SetLineageAutoRenew(originalTransactionID string, autoRenew bool) error {
	order, err := s.LatestOrderInLineage(originalTransactionID)
	if err != nil || order == nil {
		return err
	}
	return s.db.Model(order).Update("is_auto_renew", autoRenew).Error
}

// RecordCancellation stamps cancel date and reason on the lineage's latest order
func (s *Store) RecordCancellation(originalTransactionID, reason string, at time.Time) error {
	order, err := s.LatestOrderInLineage(originalTransactionID)
	if err != nil || order == nil {
		return err
	}
	return s.db.Model(order).Updates(map[string]interface{}{
		"cancel_date":   at,
		"cancel_reason": reason,
		"is_auto_renew": false,
	}).Error
}

// RefundOrder marks an order Refunded. Returns the affected order, or nil
// when there was nothing left to refund.
func (s *Store) RefundOrder(orderID uint, originalTransactionID string, at time.Time) (*models.Order, error) {
	var (
		order *models.Order
		err   error
	)
	if orderID != 0 {
		order, err = s.FindOrder(orderID)
	} else if originalTransactionID != "" {
		order, err = s.LatestPaidOrderInLineage(originalTransactionID)
	}
	if err != nil || order == nil || order.Status == models.OrderStatusRefunded {
		return nil, err
	}

	err = s.db.Model(order).Updates(map[string]interface{}{
		"status":      models.OrderStatusRefunded,
		"refunded_at": at,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to refund order %d: %w", order.ID, classify(err))
	}
	order.Status = models.OrderStatusRefunded
	return order, nil
}

// ListOrdersByUser 获取用户的所有订单
func (s *Store) ListOrdersByUser(userID uint) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.Where("user_id = ?", userID).Order("id DESC").Find(&orders).Error
	return orders, err
}

// ListPaidOrders returns paid orders matching filter
func (s *Store) ListPaidOrders(filter OrderFilter) ([]models.Order, error) {
	query := s.db.Where("status = ?", models.OrderStatusPaid)
	if filter.DistributorID != nil {
		query = query.Where("distributor_id = ?", *filter.DistributorID)
	}
	if filter.PasscodeID != nil {
		query = query.Where("source_passcode_id = ?", *filter.PasscodeID)
	}
	if filter.BookID != nil {
		query = query.Where("source_book_id = ?", *filter.BookID)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}

	var orders []models.Order
	err := query.Order("id ASC").Find(&orders).Error
	return orders, err
}

// CountOrders returns the number of orders, optionally for one lineage
func (s *Store) CountOrders(originalTransactionID string) (int64, error) {
	var count int64
	query := s.db.Model(&models.Order{})
	if originalTransactionID != "" {
		query = query.Where("original_transaction_id = ?", originalTransactionID)
	}
	err := query.Count(&count).Error
	return count, err
}

// ExtendLineageEndDate moves the latest order's entitlement end forward
func (s *Store) ExtendLineageEndDate(originalTransactionID string, end time.Time) error {
	order, err := s.LatestOrderInLineage(originalTransactionID)
	if err != nil || order == nil {
		return err
	}
	if order.SubscriptionEndDate != nil && !end.After(*order.SubscriptionEndDate) {
		return nil
	}
	return s.db.Model(order).Update("subscription_end_date", end).Error
}
