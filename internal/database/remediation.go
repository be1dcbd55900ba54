package database

import (
	"errors"
	"time"

	"subscription-api/internal/models"

	"gorm.io/gorm"
)

// CreateRemediation queues a failed webhook for follow-up
func (s *Store) CreateRemediation(item *models.RemediationItem) error {
	if item.Status == "" {
		item.Status = models.RemediationOpen
	}
	return s.db.Create(item).Error
}

// FindRemediation returns the item by id, or nil
func (s *Store) FindRemediation(id uint) (*models.RemediationItem, error) {
	var item models.RemediationItem
	err := s.db.Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListRemediation lists items, newest first. Empty status lists all.
func (s *Store) ListRemediation(status string, limit int) ([]models.RemediationItem, error) {
	query := s.db.Order("id DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var items []models.RemediationItem
	err := query.Find(&items).Error
	return items, err
}

// RecordRemediationAttempt stores the outcome of a replay
func (s *Store) RecordRemediationAttempt(id uint, resolved bool, lastErr string, at time.Time) error {
	updates := map[string]interface{}{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_attempt_at": at,
		"error":           lastErr,
	}
	if resolved {
		updates["status"] = models.RemediationResolved
	}
	return s.db.Model(&models.RemediationItem{}).Where("id = ?", id).Updates(updates).Error
}
