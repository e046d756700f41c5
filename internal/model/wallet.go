package model

import (
	"time"
)

const (
	WalletKindPersonal    = "personal"
	WalletKindMerchant    = "merchant"
	WalletKindEscrow      = "escrow"
	WalletKindCashback    = "cashback"
	WalletKindCredit      = "credit"
	WalletKindMicroCredit = "micro_credit"
	WalletKindGateway     = "gateway"
)

// WalletKindPrefix 钱包号前缀，按类型区分
var WalletKindPrefix = map[string]string{
	WalletKindPersonal:    "61",
	WalletKindMerchant:    "62",
	WalletKindEscrow:      "63",
	WalletKindCashback:    "64",
	WalletKindCredit:      "65",
	WalletKindMicroCredit: "66",
	WalletKindGateway:     "67",
}

// SystemUserID 系统账户（escrow / gateway 钱包的归属方）
const SystemUserID int64 = 0

// Wallet 钱包表
// 每个 (用户, 类型) 唯一一只钱包；available = balance - reserved
type Wallet struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64     `gorm:"not null;uniqueIndex:uniq_wallet_owner_kind" json:"user_id"`
	Kind         string    `gorm:"type:varchar(16);not null;uniqueIndex:uniq_wallet_owner_kind" json:"kind"`
	Balance      int64     `gorm:"not null;default:0" json:"balance"`
	Reserved     int64     `gorm:"not null;default:0" json:"reserved"` // 预留金额（待确认的转账持有）
	WalletNumber string    `gorm:"type:varchar(16);uniqueIndex;not null" json:"wallet_number"`
	Version      int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}

// AvailableBalance 可用余额
func (w *Wallet) AvailableBalance() int64 {
	return w.Balance - w.Reserved
}
