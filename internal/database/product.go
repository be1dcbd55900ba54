package database

import (
	"errors"

	"subscription-api/internal/models"
	"subscription-api/internal/platform"

	"gorm.io/gorm"
)

func (s *Store) firstProduct(query *gorm.DB) (*models.SubscriptionProduct, error) {
	var product models.SubscriptionProduct
	err := query.First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// FindProduct returns the catalog product by its internal id, or nil
func (s *Store) FindProduct(productID string) (*models.SubscriptionProduct, error) {
	return s.firstProduct(s.db.Where("product_id = ?", productID))
}

// FindProductByStoreID resolves a store product id to a catalog product
func (s *Store) FindProductByStoreID(platformName, storeProductID string) (*models.SubscriptionProduct, error) {
	column := "apple_product_id"
	if platformName == platform.GooglePlay {
		column = "google_product_id"
	}
	product, err := s.firstProduct(s.db.Where(column+" = ?", storeProductID))
	if err != nil || product != nil {
		return product, err
	}
	return s.FindProduct(storeProductID)
}

// ListProducts 获取上架商品
func (s *Store) ListProducts(platformName string) ([]models.SubscriptionProduct, error) {
	query := s.db.Where("is_active = ?", true)
	switch platformName {
	case platform.AppStore:
		query = query.Where("apple_product_id <> ''")
	case platform.GooglePlay:
		query = query.Where("google_product_id <> ''")
	}
	var products []models.SubscriptionProduct
	err := query.Order("sort_order ASC").Find(&products).Error
	return products, err
}
