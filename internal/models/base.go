package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// Order statuses
const (
	OrderStatusPending  = "Pending"
	OrderStatusPaid     = "Paid"
	OrderStatusRefunded = "Refunded"
)

// Event outcomes recorded on subscription_events
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRetryable = "retryable"
	OutcomeTerminal  = "terminal"
)

// Distributor statuses
const (
	DistributorActive   = 1
	DistributorDisabled = 0
)
