package models

import (
	"time"
)

// Remediation item kinds
const (
	RemediationDecode    = "decode"
	RemediationRetryable = "retryable"
	RemediationTerminal  = "terminal"
)

// Remediation item statuses
const (
	RemediationOpen     = "open"
	RemediationResolved = "resolved"
)

// RemediationItem is a webhook that could not be applied and needs an operator
// or a replay.
type RemediationItem struct {
	BaseModel
	Platform      string     `json:"platform" gorm:"size:20;index"`
	Kind          string     `json:"kind" gorm:"size:20"`
	ClaimKey      string     `json:"claim_key" gorm:"size:255;index"`
	EventType     string     `json:"event_type" gorm:"size:50"`
	Payload       string     `json:"payload" gorm:"type:text"`
	Error         string     `json:"error" gorm:"type:text"`
	Status        string     `json:"status" gorm:"size:20;index;default:'open'"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// TableName 指定表名
func (RemediationItem) TableName() string {
	return "remediation_items"
}
