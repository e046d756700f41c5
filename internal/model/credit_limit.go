package model

import (
	"time"
)

const (
	CreditLimitStatusActive    = "active"
	CreditLimitStatusSuspended = "suspended"
	CreditLimitStatusExpired   = "expired"
)

// CreditLimit 用户授信额度表
// 记录用户的授信上限与已用额度，是信用消费的核心数据
// 不变式：0 <= used_limit <= approved_limit
type CreditLimit struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64      `gorm:"uniqueIndex;not null" json:"user_id"`              // 用户ID，业务方传入
	ApprovedLimit   int64      `gorm:"not null" json:"approved_limit"`                   // 授信总额度
	UsedLimit       int64      `gorm:"not null;default:0" json:"used_limit"`             // 已用额度
	Status          string     `gorm:"type:varchar(16);index;not null" json:"status"`    // active / suspended / expired
	GracePeriodDays *int       `json:"grace_period_days"`                                // 用户级宽限期覆盖，空则取系统默认
	ReferenceCode   string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"reference_code"`
	ExpiresAt       *time.Time `json:"expires_at"` // 授信到期时间，空表示长期有效
	Version         int        `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditLimit) TableName() string {
	return "credit_limit"
}

// AvailableLimit 可用额度
func (cl *CreditLimit) AvailableLimit() int64 {
	return cl.ApprovedLimit - cl.UsedLimit
}

// IsUsable 额度是否可消费（状态有效且未过期）
func (cl *CreditLimit) IsUsable(now time.Time) bool {
	if cl.Status != CreditLimitStatusActive {
		return false
	}
	if cl.ExpiresAt != nil && !now.Before(*cl.ExpiresAt) {
		return false
	}
	return true
}
