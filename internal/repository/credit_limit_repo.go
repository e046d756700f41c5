package repository

import (
	"context"
	"errors"

	"creditpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCreditLimitNotFound = errors.New("授信额度不存在")
	ErrInsufficientCredit  = errors.New("可用额度不足")
	ErrOptimisticLock      = errors.New("乐观锁冲突，请重试")
)

type CreditLimitRepository struct {
	db *gorm.DB
}

func NewCreditLimitRepository(db *gorm.DB) *CreditLimitRepository {
	return &CreditLimitRepository{db: db}
}

func (r *CreditLimitRepository) Create(ctx context.Context, limit *model.CreditLimit) error {
	return r.db.WithContext(ctx).Create(limit).Error
}

func (r *CreditLimitRepository) GetByUserID(ctx context.Context, userID int64) (*model.CreditLimit, error) {
	return r.getByUserID(ctx, r.db, userID)
}

// getByUserID 事务内读取必须走 tx，复用事务已持有的连接
func (r *CreditLimitRepository) getByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.CreditLimit, error) {
	var limit model.CreditLimit
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&limit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCreditLimitNotFound
		}
		return nil, err
	}
	return &limit, nil
}

func (r *CreditLimitRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.CreditLimit, error) {
	var limit model.CreditLimit
	err := forUpdate(tx.WithContext(ctx)).
		Where("user_id = ?", userID).
		First(&limit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCreditLimitNotFound
		}
		return nil, err
	}
	return &limit, nil
}

// Consume 占用额度
// 条件更新保证两个并发请求不会基于同一份旧值同时通过可用性检查
func (r *CreditLimitRepository) Consume(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.CreditLimit{}).
		Where("user_id = ? AND status = ? AND used_limit + ? <= approved_limit AND version = ?",
			userID, model.CreditLimitStatusActive, amount, version).
		Updates(map[string]interface{}{
			"used_limit": gorm.Expr("used_limit + ?", amount),
			"version":    gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		limit, err := r.getByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if limit.Status != model.CreditLimitStatusActive || limit.AvailableLimit() < amount {
			return ErrInsufficientCredit
		}
		return ErrOptimisticLock
	}

	return nil
}

// Release 释放额度，下限为零
// 返回是否发生截断（超释放通常意味着调用方重复释放）
func (r *CreditLimitRepository) Release(ctx context.Context, tx *gorm.DB, userID int64, amount int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	limit, err := r.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return false, err
	}

	release := amount
	clamped := false
	if release > limit.UsedLimit {
		release = limit.UsedLimit
		clamped = true
	}

	err = tx.WithContext(ctx).
		Model(&model.CreditLimit{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"used_limit": gorm.Expr("used_limit - ?", release),
			"version":    gorm.Expr("version + 1"),
		}).Error
	return clamped, err
}

func (r *CreditLimitRepository) UpdateStatus(ctx context.Context, userID int64, status string) error {
	result := r.db.WithContext(ctx).
		Model(&model.CreditLimit{}).
		Where("user_id = ?", userID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCreditLimitNotFound
	}
	return nil
}

// GetOrCreate 按用户初始化授信记录（幂等）
func (r *CreditLimitRepository) GetOrCreate(ctx context.Context, limit *model.CreditLimit) (*model.CreditLimit, error) {
	existing, err := r.GetByUserID(ctx, limit.UserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrCreditLimitNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(limit).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, limit.UserID)
}

// ListActiveUserIDs 持有生效授信的用户，批处理按此遍历
func (r *CreditLimitRepository) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	var userIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.CreditLimit{}).
		Where("status = ?", model.CreditLimitStatusActive).
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}
