package model

import (
	"time"
)

const (
	LineTypePurchase  = "purchase"
	LineTypePayment   = "payment"
	LineTypeRepayment = "repayment"
	LineTypeFee       = "fee"
	LineTypePenalty   = "penalty"
	LineTypeInterest  = "interest"
)

// StatementLine 账单明细表
// 每一笔影响账单余额的事件都落一行，是对账与审计的唯一依据
//
// 【重要】明细表设计原则：
// 1. 只追加，不修改，不删除
// 2. 符号由类型决定：消费/利息/罚息为负，还款为正
// 3. 明细写入与父账单余额重算必须在同一事务内完成
type StatementLine struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StatementID    int64     `gorm:"index:stl_stmt_created_idx;not null" json:"statement_id"`
	LineType       string    `gorm:"type:varchar(16);index;not null" json:"line_type"`
	Amount         int64     `gorm:"not null" json:"amount"` // 带符号金额
	TransactionRef string    `gorm:"type:varchar(32);index" json:"transaction_ref"` // 关联钱包交易号，可为空
	Description    string    `gorm:"type:varchar(255)" json:"description"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index:stl_stmt_created_idx" json:"created_at"`
}

func (StatementLine) TableName() string {
	return "statement_line"
}

// IsDebitType 该类型是否记为负债增加（落库为负数）
func IsDebitType(lineType string) bool {
	switch lineType {
	case LineTypePurchase, LineTypeFee, LineTypePenalty, LineTypeInterest:
		return true
	}
	return false
}

// NormalizeLineAmount 按类型归一化符号：消费类恒为负，还款类恒为正
func NormalizeLineAmount(lineType string, amount int64) int64 {
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	if IsDebitType(lineType) {
		return -abs
	}
	return abs
}
