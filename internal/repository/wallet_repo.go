package repository

import (
	"context"
	"errors"

	"creditpay/internal/model"
	"creditpay/pkg/idgen"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound    = errors.New("钱包不存在")
	ErrInsufficientFunds = errors.New("钱包余额不足")
	ErrReservedExceeded  = errors.New("预留金额不足")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Create(ctx context.Context, wallet *model.Wallet) error {
	if wallet.WalletNumber == "" {
		wallet.WalletNumber = idgen.GenerateWalletNumber(model.WalletKindPrefix[wallet.Kind])
	}
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *WalletRepository) GetByID(ctx context.Context, walletID int64) (*model.Wallet, error) {
	return r.getByID(ctx, r.db, walletID)
}

// getByID 事务内读取必须走 tx，复用事务已持有的连接
func (r *WalletRepository) getByID(ctx context.Context, tx *gorm.DB, walletID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).Where("id = ?", walletID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, walletID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", walletID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) GetByUserAndKind(ctx context.Context, userID int64, kind string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, kind).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) GetByNumber(ctx context.Context, walletNumber string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).
		Where("wallet_number = ?", walletNumber).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetOrCreate 按 (用户, 类型) 初始化钱包（幂等）
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID int64, kind string) (*model.Wallet, error) {
	wallet, err := r.GetByUserAndKind(ctx, userID, kind)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	newWallet := &model.Wallet{
		UserID:       userID,
		Kind:         kind,
		WalletNumber: idgen.GenerateWalletNumber(model.WalletKindPrefix[kind]),
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "kind"}},
			DoNothing: true,
		}).
		Create(newWallet).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserAndKind(ctx, userID, kind)
}

// Debit 扣减余额
// 条件更新以 available（balance - reserved）为准，防止并发下超扣
func (r *WalletRepository) Debit(ctx context.Context, tx *gorm.DB, walletID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND balance - reserved >= ? AND version = ?", walletID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		wallet, err := r.getByID(ctx, tx, walletID)
		if err != nil {
			return err
		}
		if wallet.AvailableBalance() < amount {
			return ErrInsufficientFunds
		}
		return ErrOptimisticLock
	}

	return nil
}

// Credit 增加余额
func (r *WalletRepository) Credit(ctx context.Context, tx *gorm.DB, walletID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ?", walletID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Reserve 预留资金：总额不变，可用余额减少
func (r *WalletRepository) Reserve(ctx context.Context, tx *gorm.DB, walletID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND balance - reserved >= ? AND version = ?", walletID, amount, version).
		Updates(map[string]interface{}{
			"reserved": gorm.Expr("reserved + ?", amount),
			"version":  gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		wallet, err := r.getByID(ctx, tx, walletID)
		if err != nil {
			return err
		}
		if wallet.AvailableBalance() < amount {
			return ErrInsufficientFunds
		}
		return ErrOptimisticLock
	}

	return nil
}

// ReleaseReserve 释放预留
func (r *WalletRepository) ReleaseReserve(ctx context.Context, tx *gorm.DB, walletID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND reserved >= ?", walletID, amount).
		Updates(map[string]interface{}{
			"reserved": gorm.Expr("reserved - ?", amount),
			"version":  gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReservedExceeded
	}
	return nil
}

// DebitReserved 从预留中扣款（预留转账的落地动作）
func (r *WalletRepository) DebitReserved(ctx context.Context, tx *gorm.DB, walletID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND reserved >= ?", walletID, amount).
		Updates(map[string]interface{}{
			"balance":  gorm.Expr("balance - ?", amount),
			"reserved": gorm.Expr("reserved - ?", amount),
			"version":  gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReservedExceeded
	}
	return nil
}

// SumBalances 全系统余额合计，对账用
func (r *WalletRepository) SumBalances(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Select("COALESCE(SUM(balance), 0)").
		Scan(&total).Error
	return total, err
}
