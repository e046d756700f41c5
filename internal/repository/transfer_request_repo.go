package repository

import (
	"context"
	"errors"
	"time"

	"creditpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransferRequestNotFound      = errors.New("转账请求不存在")
	ErrTransferRequestStatusInvalid = errors.New("转账请求状态不合法")
)

type TransferRequestRepository struct {
	db *gorm.DB
}

func NewTransferRequestRepository(db *gorm.DB) *TransferRequestRepository {
	return &TransferRequestRepository{db: db}
}

func (r *TransferRequestRepository) Create(ctx context.Context, tx *gorm.DB, req *model.WalletTransferRequest) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(req).Error
}

func (r *TransferRequestRepository) GetByReference(ctx context.Context, reference string) (*model.WalletTransferRequest, error) {
	var req model.WalletTransferRequest
	err := r.db.WithContext(ctx).Where("reference_code = ?", reference).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransferRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *TransferRequestRepository) GetByReferenceForUpdate(ctx context.Context, tx *gorm.DB, reference string) (*model.WalletTransferRequest, error) {
	var req model.WalletTransferRequest
	err := forUpdate(tx.WithContext(ctx)).
		Where("reference_code = ?", reference).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransferRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *TransferRequestRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, reference string, fromStatus, toStatus string) error {
	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.TransferRequestStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.WalletTransferRequest{}).
		Where("reference_code = ? AND status = ?", reference, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransferRequestStatusInvalid
	}
	return nil
}

// ListExpired 超时未领取的转账（预留需回滚）
func (r *TransferRequestRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.WalletTransferRequest, error) {
	var requests []*model.WalletTransferRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.TransferRequestStatusCreated, now).
		Limit(limit).
		Find(&requests).Error
	return requests, err
}
