package database

import (
	"errors"
	"fmt"
	"time"

	"subscription-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimTransaction atomically claims key in the idempotency ledger. It returns
// claimed=false when another writer already holds the key. Must be called
// inside a transaction so a rollback releases the claim.
func (s *Store) ClaimTransaction(key, originalTransactionID, platform, productID string, at time.Time) (*models.ProcessedTransaction, bool, error) {
	claim := &models.ProcessedTransaction{
		PlatformTransactionID: key,
		OriginalTransactionID: originalTransactionID,
		Platform:              platform,
		ProductID:             productID,
		ProcessedAt:           at,
	}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform_transaction_id"}},
		DoNothing: true,
	}).Create(claim)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to claim transaction %s: %w", key, classify(result.Error))
	}
	if result.RowsAffected == 0 {
		return nil, false, nil
	}
	return claim, true, nil
}

// AttachOrder fills the claim's order slot
func (s *Store) AttachOrder(claimID, orderID uint) error {
	err := s.db.Model(&models.ProcessedTransaction{}).
		Where("id = ?", claimID).
		Update("order_id", orderID).Error
	if err != nil {
		return fmt.Errorf("failed to attach order %d to claim %d: %w", orderID, claimID, classify(err))
	}
	return nil
}

// FindClaim returns the ledger row for key, or nil
func (s *Store) FindClaim(key string) (*models.ProcessedTransaction, error) {
	var claim models.ProcessedTransaction
	err := s.db.Where("platform_transaction_id = ?", key).First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}
