package database

import (
	"fmt"

	"subscription-api/internal/models"
)

// RecordEvent appends to the subscription event log
func (s *Store) RecordEvent(event *models.SubscriptionEvent) error {
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("failed to record subscription event: %w", classify(err))
	}
	return nil
}

// ListEvents returns events for a lineage, oldest first
func (s *Store) ListEvents(originalTransactionID string) ([]models.SubscriptionEvent, error) {
	var events []models.SubscriptionEvent
	err := s.db.Where("original_transaction_id = ?", originalTransactionID).Order("id ASC").Find(&events).Error
	return events, err
}
