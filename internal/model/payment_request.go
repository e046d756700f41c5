package model

import (
	"time"
)

const (
	PaymentRequestStatusCreated          = "created"
	PaymentRequestStatusAwaitingMerchant = "awaiting_merchant_confirmation"
	PaymentRequestStatusCompleted        = "completed"
	PaymentRequestStatusCancelled        = "cancelled"
	PaymentRequestStatusExpired          = "expired"
)

var ValidPaymentRequestTransitions = map[string][]string{
	PaymentRequestStatusCreated: {
		PaymentRequestStatusAwaitingMerchant,
		PaymentRequestStatusCancelled,
		PaymentRequestStatusExpired,
	},
	PaymentRequestStatusAwaitingMerchant: {
		PaymentRequestStatusCompleted,
		PaymentRequestStatusCancelled,
		PaymentRequestStatusExpired,
	},
}

func CanPaymentRequestTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidPaymentRequestTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// PaymentRequest 商户收款请求表
// 商户发起、客户确认入担保户、商户核验出担保户的两段式支付
// created / awaiting_merchant_confirmation 状态过期后按取消处理（回滚担保户资金）
type PaymentRequest struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferenceCode   string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"reference_code"`
	MerchantID      int64      `gorm:"index;not null" json:"merchant_id"`
	CustomerID      *int64     `gorm:"index" json:"customer_id"` // 客户确认支付时绑定
	FundingWalletID *int64     `json:"funding_wallet_id"`        // 出资钱包，取消/过期时按原路退回
	Amount          int64      `gorm:"not null" json:"amount"`
	Status          string     `gorm:"type:varchar(32);index;not null" json:"status"`
	Description     string     `gorm:"type:varchar(255)" json:"description"`
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires_at"` // 当前阶段的截止时间
	PaidAt          *time.Time `json:"paid_at"`                          // 客户确认时间
	CompletedAt     *time.Time `json:"completed_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentRequest) TableName() string {
	return "payment_request"
}

// IsTerminal 终态请求的取消/过期为幂等空操作
func (p *PaymentRequest) IsTerminal() bool {
	switch p.Status {
	case PaymentRequestStatusCompleted, PaymentRequestStatusCancelled, PaymentRequestStatusExpired:
		return true
	}
	return false
}

// IsExpired 当前阶段是否已过期
func (p *PaymentRequest) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
