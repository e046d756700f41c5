package repository

import (
	"context"
	"errors"
	"time"

	"creditpay/internal/model"
	"creditpay/pkg/idgen"

	"gorm.io/gorm"
)

var (
	ErrStatementNotFound     = errors.New("账单不存在")
	ErrStatementStateInvalid = errors.New("账单状态不合法")
	ErrDuplicateCurrent      = errors.New("用户已存在 current 账单")
)

type StatementRepository struct {
	db *gorm.DB
}

func NewStatementRepository(db *gorm.DB) *StatementRepository {
	return &StatementRepository{db: db}
}

// CreateCurrent 创建 current 账单
// current_flag 置 1，(user_id, current_flag) 唯一索引在存储层兜住
// “每用户至多一张 current 账单”的不变式，并发重复创建报 ErrDuplicateCurrent
func (r *StatementRepository) CreateCurrent(ctx context.Context, tx *gorm.DB, stmt *model.Statement) error {
	if tx == nil {
		tx = r.db
	}
	one := int8(1)
	stmt.Status = model.StatementStatusCurrent
	stmt.CurrentFlag = &one
	if stmt.ReferenceCode == "" {
		stmt.ReferenceCode = idgen.GenerateStatementRef()
	}
	err := tx.WithContext(ctx).Create(stmt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateCurrent
		}
		return err
	}
	return nil
}

func (r *StatementRepository) GetByID(ctx context.Context, statementID int64) (*model.Statement, error) {
	var stmt model.Statement
	err := r.db.WithContext(ctx).Where("id = ?", statementID).First(&stmt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStatementNotFound
		}
		return nil, err
	}
	return &stmt, nil
}

func (r *StatementRepository) GetCurrent(ctx context.Context, userID int64) (*model.Statement, error) {
	var stmt model.Statement
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StatementStatusCurrent).
		First(&stmt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStatementNotFound
		}
		return nil, err
	}
	return &stmt, nil
}

func (r *StatementRepository) GetCurrentForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Statement, error) {
	var stmt model.Statement
	err := forUpdate(tx.WithContext(ctx)).
		Where("user_id = ? AND status = ?", userID, model.StatementStatusCurrent).
		First(&stmt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStatementNotFound
		}
		return nil, err
	}
	return &stmt, nil
}

func (r *StatementRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, statementID int64) (*model.Statement, error) {
	var stmt model.Statement
	err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", statementID).
		First(&stmt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStatementNotFound
		}
		return nil, err
	}
	return &stmt, nil
}

func (r *StatementRepository) GetByUserPeriod(ctx context.Context, userID int64, year, month int) (*model.Statement, error) {
	var stmt model.Statement
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND year = ? AND month = ?", userID, year, month).
		First(&stmt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStatementNotFound
		}
		return nil, err
	}
	return &stmt, nil
}

// ListCurrentBefore 账期早于给定账期的 current 账单（月末结转的目标集合）
func (r *StatementRepository) ListCurrentBefore(ctx context.Context, year, month, limit int) ([]*model.Statement, error) {
	var statements []*model.Statement
	err := r.db.WithContext(ctx).
		Where("status = ? AND (year < ? OR (year = ? AND month < ?))",
			model.StatementStatusCurrent, year, year, month).
		Limit(limit).
		Find(&statements).Error
	return statements, err
}

// ListPendingDue 宽限期已过、待裁定的账单
func (r *StatementRepository) ListPendingDue(ctx context.Context, before time.Time, limit int) ([]*model.Statement, error) {
	var statements []*model.Statement
	err := r.db.WithContext(ctx).
		Where("status = ? AND due_date < ?", model.StatementStatusPendingPayment, before).
		Limit(limit).
		Find(&statements).Error
	return statements, err
}

// ListPendingByUser 用户名下待还账单，按账期升序（还款先冲最早账期）
func (r *StatementRepository) ListPendingByUser(ctx context.Context, userID int64) ([]*model.Statement, error) {
	var statements []*model.Statement
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StatementStatusPendingPayment).
		Order("year ASC, month ASC").
		Find(&statements).Error
	return statements, err
}

// CloseToPending 关账：current -> pending_payment
// 同时置空 current_flag、冻结最低还款额与宽限期截止时间
// 条件更新保证只有仍处于 current 的账单会被关账（幂等重入安全）
func (r *StatementRepository) CloseToPending(ctx context.Context, tx *gorm.DB, statementID int64, dueDate time.Time, minimumPayment int64, closedAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Statement{}).
		Where("id = ? AND status = ?", statementID, model.StatementStatusCurrent).
		Updates(map[string]interface{}{
			"status":          model.StatementStatusPendingPayment,
			"current_flag":    nil,
			"due_date":        dueDate,
			"minimum_payment": minimumPayment,
			"closed_at":       closedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatementStateInvalid
	}
	return nil
}

// Finalize 终态裁定：pending_payment -> closed_no_penalty / closed_with_penalty
func (r *StatementRepository) Finalize(ctx context.Context, tx *gorm.DB, statementID int64, toStatus string, closedAt time.Time) error {
	if !model.CanStatementTransitionTo(model.StatementStatusPendingPayment, toStatus) {
		return ErrStatementStateInvalid
	}
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Statement{}).
		Where("id = ? AND status = ?", statementID, model.StatementStatusPendingPayment).
		Updates(map[string]interface{}{
			"status":    toStatus,
			"closed_at": closedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatementStateInvalid
	}
	return nil
}

// AddLine 追加明细行
// 只追加；符号按类型归一化。调用方必须在同一事务内随后调用 RecomputeBalances
func (r *StatementRepository) AddLine(ctx context.Context, tx *gorm.DB, line *model.StatementLine) error {
	if tx == nil {
		tx = r.db
	}
	line.Amount = model.NormalizeLineAmount(line.LineType, line.Amount)
	return tx.WithContext(ctx).Create(line).Error
}

// RecomputeBalances 由明细行重算并回写缓存余额
// closing = opening + total_debit - total_credit（负债为正）
func (r *StatementRepository) RecomputeBalances(ctx context.Context, tx *gorm.DB, statementID int64) error {
	if tx == nil {
		tx = r.db
	}

	var totals struct {
		TotalDebit  int64
		TotalCredit int64
	}
	err := tx.WithContext(ctx).
		Model(&model.StatementLine{}).
		Select(
			"COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS total_debit, " +
				"COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS total_credit").
		Where("statement_id = ?", statementID).
		Scan(&totals).Error
	if err != nil {
		return err
	}

	result := tx.WithContext(ctx).
		Model(&model.Statement{}).
		Where("id = ?", statementID).
		Updates(map[string]interface{}{
			"total_debit":     totals.TotalDebit,
			"total_credit":    totals.TotalCredit,
			"closing_balance": gorm.Expr("opening_balance + ? - ?", totals.TotalDebit, totals.TotalCredit),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatementNotFound
	}
	return nil
}

// ListPendingInGraceForUpdate 用户名下仍在宽限期内的待还账单，按账期升序锁定
// 还款按最早账期优先分摊到这些账单
func (r *StatementRepository) ListPendingInGraceForUpdate(ctx context.Context, tx *gorm.DB, userID int64, now time.Time) ([]*model.Statement, error) {
	var statements []*model.Statement
	err := forUpdate(tx.WithContext(ctx)).
		Where("user_id = ? AND status = ? AND due_date >= ?",
			userID, model.StatementStatusPendingPayment, now).
		Order("year ASC, month ASC").
		Find(&statements).Error
	return statements, err
}

// AddPaidInGrace 把一笔宽限期还款记到指定待还账单名下
// 条件更新只认 pending_payment，账单已被并发裁定则报状态错误
func (r *StatementRepository) AddPaidInGrace(ctx context.Context, tx *gorm.DB, statementID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Statement{}).
		Where("id = ? AND status = ?", statementID, model.StatementStatusPendingPayment).
		Update("paid_in_grace", gorm.Expr("paid_in_grace + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatementStateInvalid
	}
	return nil
}

func (r *StatementRepository) ListLines(ctx context.Context, statementID int64) ([]*model.StatementLine, error) {
	var lines []*model.StatementLine
	err := r.db.WithContext(ctx).
		Where("statement_id = ?", statementID).
		Order("created_at ASC, id ASC").
		Find(&lines).Error
	return lines, err
}
