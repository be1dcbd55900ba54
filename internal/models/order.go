package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 订单流水，每次成功扣费一行，永不物理删除
type Order struct {
	BaseModel

	UserID   uint            `json:"user_id" gorm:"not null;index"`
	OrderNo  string          `json:"order_no" gorm:"size:40;uniqueIndex;not null"` // 对外展示的订单号
	Amount   decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	Currency string          `json:"currency" gorm:"size:3"`
	Status   string          `json:"status" gorm:"size:20;not null;index"` // Pending / Paid / Refunded
	Platform string          `json:"platform" gorm:"size:20;index"`        // AppStore / GooglePay

	ProductID             string `json:"product_id" gorm:"size:100"`
	PlanType              string `json:"plan_type" gorm:"size:20"`
	OriginalTransactionID string `json:"original_transaction_id" gorm:"size:255;index"` // 续订链路内不变
	PlatformTransactionID string `json:"platform_transaction_id" gorm:"size:255;uniqueIndex"`
	PurchaseToken         string `json:"purchase_token,omitempty" gorm:"type:text"`

	SubscriptionStartDate *time.Time `json:"subscription_start_date"`
	SubscriptionEndDate   *time.Time `json:"subscription_end_date"`
	IsAutoRenew           bool       `json:"is_auto_renew"`
	CancelDate            *time.Time `json:"cancel_date,omitempty"`
	CancelReason          string     `json:"cancel_reason,omitempty" gorm:"size:255"`
	RefundedAt            *time.Time `json:"refunded_at,omitempty"`

	// 来源归因，用于分销佣金
	DistributorID    *uint  `json:"distributor_id,omitempty" gorm:"index"`
	SourcePasscodeID *uint  `json:"source_passcode_id,omitempty" gorm:"index"`
	SourceBookID     *uint  `json:"source_book_id,omitempty" gorm:"index"`
	SourceEntry      string `json:"source_entry,omitempty" gorm:"size:50"`

	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
