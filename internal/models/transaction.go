package models

import (
	"time"
)

// ProcessedTransaction 幂等记录
// 每个平台交易ID（或 "<platform>:<notificationId>"）最多一行，与订单在同一事务内写入
type ProcessedTransaction struct {
	ID                    uint      `json:"id" gorm:"primaryKey"`
	PlatformTransactionID string    `json:"platform_transaction_id" gorm:"size:255;uniqueIndex;not null"`
	OriginalTransactionID string    `json:"original_transaction_id" gorm:"size:255;index"`
	OrderID               *uint     `json:"order_id"` // 为空表示没有新订单
	Platform              string    `json:"platform" gorm:"size:20"`
	ProductID             string    `json:"product_id" gorm:"size:100"`
	ProcessedAt           time.Time `json:"processed_at"`
}

// TableName 指定表名
func (ProcessedTransaction) TableName() string {
	return "processed_transactions"
}
