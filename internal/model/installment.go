package model

import (
	"time"
)

const (
	InstallmentPlanStatusActive = "active"
	InstallmentPlanStatusClosed = "closed"
)

const (
	InstallmentStatusPending = "pending"
	InstallmentStatusPaid    = "paid"
	InstallmentStatusOverdue = "overdue"
)

const (
	InstallmentSourcePaymentRequest = "payment_request"
	InstallmentSourcePurchase       = "purchase"
)

// InstallmentPlan 分期计划表
// 由一笔信用消费或支付请求生成，按波斯历月生成各期账期
type InstallmentPlan struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64      `gorm:"index;not null" json:"user_id"`
	SourceType     string     `gorm:"type:varchar(24);not null" json:"source_type"`
	SourceRef      string     `gorm:"type:varchar(32);index;not null" json:"source_ref"` // 来源单据号
	Principal      int64      `gorm:"not null" json:"principal"`                         // 本金
	TotalAmount    int64      `gorm:"not null" json:"total_amount"`                      // 含息总额
	DurationMonths int        `gorm:"not null" json:"duration_months"`
	PeriodMonths   int        `gorm:"not null" json:"period_months"` // 每期间隔（月）
	AnnualRate     float64    `gorm:"not null" json:"annual_rate"`   // 年化利率
	Status         string     `gorm:"type:varchar(16);index;not null" json:"status"`
	ClosedAt       *time.Time `json:"closed_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InstallmentPlan) TableName() string {
	return "installment_plan"
}

// Installment 分期单期表
// 逾期罚息按日独立计提，与账单罚息互不影响
type Installment struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PlanID         int64      `gorm:"index:inst_plan_due_idx;not null" json:"plan_id"`
	Sequence       int        `gorm:"not null" json:"sequence"` // 期数，从 1 开始
	Amount         int64      `gorm:"not null" json:"amount"`
	AmountPaid     int64      `gorm:"not null;default:0" json:"amount_paid"`
	PenaltyPaid    int64      `gorm:"not null;default:0" json:"penalty_paid"`
	DueDate        time.Time  `gorm:"index:inst_plan_due_idx;not null" json:"due_date"`
	Status         string     `gorm:"type:varchar(16);index;not null" json:"status"`
	PaidAt         *time.Time `json:"paid_at"`
	TransactionRef string     `gorm:"type:varchar(32)" json:"transaction_ref"` // 还款交易号
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Installment) TableName() string {
	return "installment"
}

// CurrentPenalty 按日罚息：amount * dailyRate * 逾期天数，已还清则返回实缴罚息
func (i *Installment) CurrentPenalty(now time.Time, dailyRate float64) int64 {
	if i.Status == InstallmentStatusPaid {
		return i.PenaltyPaid
	}
	if !now.After(i.DueDate) {
		return 0
	}
	overdueDays := int64(now.Sub(i.DueDate).Hours() / 24)
	if overdueDays <= 0 {
		return 0
	}
	return int64(float64(i.Amount) * dailyRate * float64(overdueDays))
}
