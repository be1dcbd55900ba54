package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SubscriptionProduct 订阅商品（目录边界，只读）
type SubscriptionProduct struct {
	BaseModel
	ProductID       string          `json:"product_id" gorm:"size:100;uniqueIndex;not null"`
	Name            string          `json:"name" gorm:"size:100"`
	AppleProductID  string          `json:"apple_product_id" gorm:"size:100;index"`
	GoogleProductID string          `json:"google_product_id" gorm:"size:100;index"`
	PlanType        string          `json:"plan_type" gorm:"size:20"` // monthly / quarterly / yearly / lifetime
	DurationDays    int             `json:"duration_days"`
	Price           decimal.Decimal `json:"price" gorm:"type:decimal(10,2)"`
	Currency        string          `json:"currency" gorm:"size:3;default:'USD'"`
	IsActive        bool            `json:"is_active" gorm:"default:true"`
	SortOrder       int             `json:"sort_order"`
}

// TableName 指定表名
func (SubscriptionProduct) TableName() string {
	return "subscription_products"
}

// SubscriptionEvent 订阅事件审计日志，只追加
type SubscriptionEvent struct {
	ID                    uint           `json:"id" gorm:"primaryKey"`
	EventType             string         `json:"event_type" gorm:"size:50;index"`
	RawType               string         `json:"raw_type" gorm:"size:100"`
	Platform              string         `json:"platform" gorm:"size:20;index"`
	NotificationID        string         `json:"notification_id" gorm:"size:255;index"`
	OriginalTransactionID string         `json:"original_transaction_id" gorm:"size:255;index"`
	UserID                *uint          `json:"user_id,omitempty" gorm:"index"`
	OrderID               *uint          `json:"order_id,omitempty"`
	Outcome               string         `json:"outcome" gorm:"size:20"`
	NotificationData      datatypes.JSON `json:"notification_data"`
	ProcessedAt           time.Time      `json:"processed_at" gorm:"index"`
}

// TableName 指定表名
func (SubscriptionEvent) TableName() string {
	return "subscription_events"
}
