package repository

import (
	"context"
	"errors"
	"time"

	"creditpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPaymentRequestNotFound      = errors.New("支付请求不存在")
	ErrPaymentRequestStatusInvalid = errors.New("支付请求状态不合法")
	ErrDuplicateReference          = errors.New("重复请求")
)

type PaymentRequestRepository struct {
	db *gorm.DB
}

func NewPaymentRequestRepository(db *gorm.DB) *PaymentRequestRepository {
	return &PaymentRequestRepository{db: db}
}

func (r *PaymentRequestRepository) Create(ctx context.Context, tx *gorm.DB, req *model.PaymentRequest) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (r *PaymentRequestRepository) GetByReference(ctx context.Context, reference string) (*model.PaymentRequest, error) {
	var req model.PaymentRequest
	err := r.db.WithContext(ctx).Where("reference_code = ?", reference).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *PaymentRequestRepository) GetByReferenceForUpdate(ctx context.Context, tx *gorm.DB, reference string) (*model.PaymentRequest, error) {
	var req model.PaymentRequest
	err := forUpdate(tx.WithContext(ctx)).
		Where("reference_code = ?", reference).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// UpdateStatus 状态机推进
// 条件更新只认当前状态，竞争方各自拿到明确的成败结果
func (r *PaymentRequestRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, reference string, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanPaymentRequestTransitionTo(fromStatus, toStatus) {
		return ErrPaymentRequestStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.PaymentRequest{}).
		Where("reference_code = ? AND status = ?", reference, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPaymentRequestStatusInvalid
	}

	return nil
}

// ListExpired 阶段超时的请求（created 未确认 / 已确认未核销）
func (r *PaymentRequestRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.PaymentRequest, error) {
	var requests []*model.PaymentRequest
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?",
			[]string{model.PaymentRequestStatusCreated, model.PaymentRequestStatusAwaitingMerchant}, now).
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

func (r *PaymentRequestRepository) ListByMerchant(ctx context.Context, merchantID int64, page, pageSize int) ([]*model.PaymentRequest, int64, error) {
	var requests []*model.PaymentRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PaymentRequest{}).Where("merchant_id = ?", merchantID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&requests).Error

	return requests, total, err
}
