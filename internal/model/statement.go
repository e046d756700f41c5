package model

import (
	"fmt"
	"time"
)

const (
	StatementStatusCurrent           = "current"
	StatementStatusPendingPayment    = "pending_payment"
	StatementStatusClosedNoPenalty   = "closed_no_penalty"
	StatementStatusClosedWithPenalty = "closed_with_penalty"
)

var ValidStatementTransitions = map[string][]string{
	StatementStatusCurrent:        {StatementStatusPendingPayment},
	StatementStatusPendingPayment: {StatementStatusClosedNoPenalty, StatementStatusClosedWithPenalty},
}

func CanStatementTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatementTransitions[currentStatus]
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

// Statement 月度账单表（账期为波斯历月份）
// 每个用户任意时刻最多一张 current 账单，由 (user_id, current_flag)
// 唯一索引在存储层兜底（非 current 时 current_flag 置 NULL，NULL 不参与唯一约束）
//
// 金额符号约定：负债为正。closing_balance = opening_balance + total_debit - total_credit
type Statement struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64      `gorm:"not null;uniqueIndex:uniq_stmt_user_period;uniqueIndex:uniq_stmt_user_current" json:"user_id"`
	Year           int        `gorm:"not null;uniqueIndex:uniq_stmt_user_period" json:"year"`  // 波斯历年份
	Month          int        `gorm:"not null;uniqueIndex:uniq_stmt_user_period" json:"month"` // 波斯历月份 1-12
	ReferenceCode  string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"reference_code"`
	Status         string     `gorm:"type:varchar(24);index;not null" json:"status"`
	CurrentFlag    *int8      `gorm:"uniqueIndex:uniq_stmt_user_current" json:"-"` // current 时为 1，否则 NULL
	OpeningBalance int64      `gorm:"not null;default:0" json:"opening_balance"`   // 期初负债（正数=欠款）
	ClosingBalance int64      `gorm:"not null;default:0" json:"closing_balance"`   // 期末负债，由明细行汇总缓存
	TotalDebit     int64      `gorm:"not null;default:0" json:"total_debit"`       // 本期消费合计（正数）
	TotalCredit    int64      `gorm:"not null;default:0" json:"total_credit"`      // 本期还款合计（正数）
	MinimumPayment int64      `gorm:"not null;default:0" json:"minimum_payment"`   // 账单关账时冻结的最低还款额
	PaidInGrace    int64      `gorm:"not null;default:0" json:"paid_in_grace"`     // 宽限期内分摊到本账单的还款额
	DueDate        *time.Time `gorm:"index" json:"due_date"`                       // 宽限期截止
	ClosedAt       *time.Time `json:"closed_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Statement) TableName() string {
	return "statement"
}

// PeriodString 账期字符串，如 1404/05
func (s *Statement) PeriodString() string {
	return fmt.Sprintf("%04d/%02d", s.Year, s.Month)
}

// IsWithinDue 是否仍在宽限期内
func (s *Statement) IsWithinDue(now time.Time) bool {
	if s.DueDate == nil {
		return false
	}
	return !now.After(*s.DueDate)
}

// IsTerminal 终态账单不可再变更
func (s *Statement) IsTerminal() bool {
	return s.Status == StatementStatusClosedNoPenalty || s.Status == StatementStatusClosedWithPenalty
}
