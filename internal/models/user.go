package models

import (
	"subscription-api/internal/lifecycle"
)

// User 用户记录（外部系统维护，本服务只读写订阅相关字段）
type User struct {
	BaseModel
	Email           string `json:"email" gorm:"size:255;index"`
	Nickname        string `json:"nickname" gorm:"size:100"`
	AppAccountToken string `json:"app_account_token" gorm:"size:36;index"` // 客户端传给 Apple 的 appAccountToken (UUID)
	IsSvip          bool   `json:"is_svip" gorm:"default:false"`           // 当前是否有会员权益

	Subscription lifecycle.Subscription `json:"subscription" gorm:"embedded;embeddedPrefix:subscription_"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
