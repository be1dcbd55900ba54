package database

import (
	"errors"

	"subscription-api/internal/models"

	"gorm.io/gorm"
)

// FindDistributor returns the distributor by id, or nil
func (s *Store) FindDistributor(id uint) (*models.Distributor, error) {
	var distributor models.Distributor
	err := s.db.Where("id = ?", id).First(&distributor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &distributor, nil
}

// DistributorsByID loads distributors keyed by id
func (s *Store) DistributorsByID(ids []uint) (map[uint]models.Distributor, error) {
	result := make(map[uint]models.Distributor, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var distributors []models.Distributor
	if err := s.db.Where("id IN ?", ids).Find(&distributors).Error; err != nil {
		return nil, err
	}
	for _, d := range distributors {
		result[d.ID] = d
	}
	return result, nil
}

// CreateDistributor 创建分销商
func (s *Store) CreateDistributor(distributor *models.Distributor) error {
	return s.db.Create(distributor).Error
}
