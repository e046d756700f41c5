package model

import (
	"time"
)

const (
	TransactionStatusPending    = "pending"
	TransactionStatusSuccess    = "success"
	TransactionStatusFailed     = "failed"
	TransactionStatusRolledBack = "rolled_back"
)

const (
	TransactionPurposeEscrowDebit = "escrow_debit" // 客户 -> 担保户
	TransactionPurposeSettlement  = "settlement"   // 担保户 -> 商户
	TransactionPurposeReversal    = "reversal"     // 担保户 -> 客户（回滚）
	TransactionPurposeTransfer    = "transfer"     // 普通钱包间转账
	TransactionPurposeRepayment   = "repayment"    // 账单/分期还款
)

// Transaction 钱包交易表
// 记录每一次钱包间资金移动，到达终态后不可变更
//
// 【重要】交易表设计原则：
// 1. 交易行与两侧钱包余额变动必须在同一事务内提交
// 2. 转账失败也落一条 failed 记录，便于审计排查
// 3. 记录转出方交易前后余额，便于校验余额一致性
type Transaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferenceCode string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"reference_code"`
	SourceID      int64     `gorm:"index:trx_from_to_idx;not null" json:"source_wallet_id"`
	DestinationID int64     `gorm:"index:trx_from_to_idx;not null" json:"destination_wallet_id"`
	Amount        int64     `gorm:"not null" json:"amount"` // 恒为正数
	Status        string    `gorm:"type:varchar(16);index;not null" json:"status"`
	Purpose       string    `gorm:"type:varchar(24);index" json:"purpose"`
	RequestRef    string    `gorm:"type:varchar(32);index" json:"request_ref"` // 关联支付/转账请求号，可为空
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`            // 转出方交易前余额
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`             // 转出方交易后余额
	Description   string    `gorm:"type:varchar(255)" json:"description"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "wallet_transaction"
}

// IsTerminal 是否到达终态
func (t *Transaction) IsTerminal() bool {
	return t.Status != TransactionStatusPending
}
