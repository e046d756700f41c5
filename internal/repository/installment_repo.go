package repository

import (
	"context"
	"errors"
	"time"

	"creditpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrInstallmentNotFound      = errors.New("分期记录不存在")
	ErrInstallmentStatusInvalid = errors.New("分期状态不合法")
)

type InstallmentRepository struct {
	db *gorm.DB
}

func NewInstallmentRepository(db *gorm.DB) *InstallmentRepository {
	return &InstallmentRepository{db: db}
}

// CreatePlan 计划与各期同事务落库
func (r *InstallmentRepository) CreatePlan(ctx context.Context, tx *gorm.DB, plan *model.InstallmentPlan, installments []*model.Installment) error {
	if tx == nil {
		tx = r.db
	}
	if err := tx.WithContext(ctx).Create(plan).Error; err != nil {
		return err
	}
	for _, inst := range installments {
		inst.PlanID = plan.ID
	}
	return tx.WithContext(ctx).Create(&installments).Error
}

func (r *InstallmentRepository) GetPlan(ctx context.Context, planID int64) (*model.InstallmentPlan, error) {
	var plan model.InstallmentPlan
	err := r.db.WithContext(ctx).Where("id = ?", planID).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstallmentNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// GetPlanForUpdate 事务内锁定读取计划（还款与关账路径）
func (r *InstallmentRepository) GetPlanForUpdate(ctx context.Context, tx *gorm.DB, planID int64) (*model.InstallmentPlan, error) {
	var plan model.InstallmentPlan
	err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", planID).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstallmentNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *InstallmentRepository) ListPlansByUser(ctx context.Context, userID int64) ([]*model.InstallmentPlan, error) {
	var plans []*model.InstallmentPlan
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&plans).Error
	return plans, err
}

func (r *InstallmentRepository) GetInstallment(ctx context.Context, installmentID int64) (*model.Installment, error) {
	var inst model.Installment
	err := r.db.WithContext(ctx).Where("id = ?", installmentID).First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstallmentNotFound
		}
		return nil, err
	}
	return &inst, nil
}

func (r *InstallmentRepository) GetInstallmentForUpdate(ctx context.Context, tx *gorm.DB, installmentID int64) (*model.Installment, error) {
	var inst model.Installment
	err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", installmentID).
		First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstallmentNotFound
		}
		return nil, err
	}
	return &inst, nil
}

func (r *InstallmentRepository) ListByPlan(ctx context.Context, planID int64) ([]*model.Installment, error) {
	var installments []*model.Installment
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("sequence ASC").
		Find(&installments).Error
	return installments, err
}

// MarkPaid 单期结清
// 条件更新只认未结清状态，重复还款请求会得到状态错误
func (r *InstallmentRepository) MarkPaid(ctx context.Context, tx *gorm.DB, installmentID int64, amountPaid, penaltyPaid int64, transactionRef string, paidAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Installment{}).
		Where("id = ? AND status IN ?", installmentID,
			[]string{model.InstallmentStatusPending, model.InstallmentStatusOverdue}).
		Updates(map[string]interface{}{
			"status":          model.InstallmentStatusPaid,
			"amount_paid":     amountPaid,
			"penalty_paid":    penaltyPaid,
			"transaction_ref": transactionRef,
			"paid_at":         paidAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInstallmentStatusInvalid
	}
	return nil
}

// MarkOverdueBefore 批量标记逾期，返回影响行数
func (r *InstallmentRepository) MarkOverdueBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Installment{}).
		Where("status = ? AND due_date < ?", model.InstallmentStatusPending, before).
		Update("status", model.InstallmentStatusOverdue)
	return result.RowsAffected, result.Error
}

// CountUnpaid 计划下未结清期数（清零则可关账计划）
func (r *InstallmentRepository) CountUnpaid(ctx context.Context, tx *gorm.DB, planID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.Installment{}).
		Where("plan_id = ? AND status != ?", planID, model.InstallmentStatusPaid).
		Count(&count).Error
	return count, err
}

// ClosePlan 计划关账
func (r *InstallmentRepository) ClosePlan(ctx context.Context, tx *gorm.DB, planID int64, closedAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.InstallmentPlan{}).
		Where("id = ? AND status = ?", planID, model.InstallmentPlanStatusActive).
		Updates(map[string]interface{}{
			"status":    model.InstallmentPlanStatusClosed,
			"closed_at": closedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInstallmentStatusInvalid
	}
	return nil
}
