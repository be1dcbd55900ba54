package database

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store wraps a gorm handle. Inside Transaction the handle is bound to the
// open transaction, so every query made through it joins that unit of work.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over db
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithContext returns a store whose queries honour ctx
func (s *Store) WithContext(ctx context.Context) *Store {
	return &Store{db: s.db.WithContext(ctx)}
}

// Transaction runs fn in a database transaction. Lock contention surfaces as
// ErrPersistenceConflict.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
	return classify(err)
}

// forUpdate adds a row lock where the dialect supports it. SQLite serializes
// writers on its own.
func (s *Store) forUpdate() *gorm.DB {
	if s.db.Dialector.Name() == "sqlite" {
		return s.db
	}
	return s.db.Clauses(clause.Locking{Strength: "UPDATE"})
}
