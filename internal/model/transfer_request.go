package model

import (
	"time"
)

const (
	TransferRequestStatusCreated   = "created"
	TransferRequestStatusCompleted = "completed"
	TransferRequestStatusCancelled = "cancelled"
	TransferRequestStatusExpired   = "expired"
)

// WalletTransferRequest 个人间转账请求表
// 与支付请求同构，但没有商户核验环节：创建时在转出钱包上预留资金，
// 收款方接受后释放预留并完成转账；取消或过期仅释放预留
type WalletTransferRequest struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferenceCode    string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"reference_code"`
	SenderWalletID   int64      `gorm:"index;not null" json:"sender_wallet_id"`
	ReceiverWalletID int64      `gorm:"index;not null" json:"receiver_wallet_id"`
	Amount           int64      `gorm:"not null" json:"amount"`
	Status           string     `gorm:"type:varchar(16);index;not null" json:"status"`
	Description      string     `gorm:"type:varchar(255)" json:"description"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expires_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletTransferRequest) TableName() string {
	return "wallet_transfer_request"
}

// IsTerminal 是否到达终态
func (r *WalletTransferRequest) IsTerminal() bool {
	switch r.Status {
	case TransferRequestStatusCompleted, TransferRequestStatusCancelled, TransferRequestStatusExpired:
		return true
	}
	return false
}

// IsExpired 是否已过期
func (r *WalletTransferRequest) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
