package database

import (
	"errors"
	"fmt"
	"time"

	"subscription-api/internal/lifecycle"
	"subscription-api/internal/models"

	"gorm.io/gorm"
)

func (s *Store) firstUser(query *gorm.DB) (*models.User, error) {
	var user models.User
	err := query.First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &user, nil
}

// CreateUser 创建用户
func (s *Store) CreateUser(user *models.User) error {
	if user.Subscription.Status == "" {
		user.Subscription.Status = lifecycle.StatusNone
	}
	return s.db.Create(user).Error
}

// FindUser returns the user by id, or nil
func (s *Store) FindUser(id uint) (*models.User, error) {
	return s.firstUser(s.db.Where("id = ?", id))
}

// LockUser loads the user with a row lock held until the transaction ends.
// The user row is the unit of mutual exclusion for a subscription lineage.
func (s *Store) LockUser(id uint) (*models.User, error) {
	return s.firstUser(s.forUpdate().Where("id = ?", id))
}

// FindUserByAppAccountToken 通过 appAccountToken 获取用户
func (s *Store) FindUserByAppAccountToken(token string) (*models.User, error) {
	if token == "" {
		return nil, nil
	}
	return s.firstUser(s.db.Where("app_account_token = ?", token))
}

// FindUserByLineage returns the user whose current subscription is the lineage
func (s *Store) FindUserByLineage(originalTransactionID string) (*models.User, error) {
	return s.firstUser(s.db.Where("subscription_original_transaction_id = ?", originalTransactionID))
}

// SaveSubscription writes the subscription projection and access flag.
// Other user columns belong to the account system and are left alone.
func (s *Store) SaveSubscription(user *models.User) error {
	sub := user.Subscription
	err := s.db.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"is_svip":                              user.IsSvip,
		"subscription_status":                  string(sub.Status),
		"subscription_plan_type":               sub.PlanType,
		"subscription_end_date":                sub.EndDate,
		"subscription_auto_renew":              sub.AutoRenew,
		"subscription_original_transaction_id": sub.OriginalTransactionID,
		"subscription_platform":                sub.Platform,
		"subscription_last_event_at":           sub.LastEventAt,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to save subscription for user %d: %w", user.ID, classify(err))
	}
	return nil
}

// ListExpirableUserIDs returns users whose entitlement ended but whose status
// still grants access.
func (s *Store) ListExpirableUserIDs(now time.Time, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&models.User{}).
		Where("id > ?", afterID).
		Where("subscription_status IN ?", []string{
			string(lifecycle.StatusActive),
			string(lifecycle.StatusGrace),
			string(lifecycle.StatusCancelled),
		}).
		Where("subscription_end_date < ?", now).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
