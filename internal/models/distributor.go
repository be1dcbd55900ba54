package models

import (
	"github.com/shopspring/decimal"
)

// Distributor 分销商
type Distributor struct {
	BaseModel
	Name   string `json:"name" gorm:"size:100;not null"`
	Code   string `json:"code" gorm:"size:50;uniqueIndex"`
	Status int    `json:"status" gorm:"default:1"`
	// CommissionRate 佣金比例（百分比），为空时使用默认值
	CommissionRate decimal.NullDecimal `json:"commission_rate" gorm:"type:decimal(5,2)"`
}

// TableName 指定表名
func (Distributor) TableName() string {
	return "distributors"
}
