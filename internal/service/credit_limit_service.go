package service

import (
	"context"
	"errors"
	"log"
	"time"

	"creditpay/internal/config"
	"creditpay/internal/model"
	"creditpay/internal/repository"
	"creditpay/pkg/idgen"

	"gorm.io/gorm"
)

type CreditLimitService struct {
	db        *gorm.DB
	cfg       *config.Config
	limitRepo *repository.CreditLimitRepository
}

func NewCreditLimitService(db *gorm.DB, cfg *config.Config) *CreditLimitService {
	return &CreditLimitService{
		db:        db,
		cfg:       cfg,
		limitRepo: repository.NewCreditLimitRepository(db),
	}
}

// GrantLimit 授信（幂等：已有记录直接返回）
func (s *CreditLimitService) GrantLimit(ctx context.Context, userID, approvedLimit int64) (*model.CreditLimit, error) {
	if approvedLimit <= 0 {
		return nil, errors.New("授信额度必须大于0")
	}

	expiresAt := time.Now().AddDate(0, 0, s.cfg.Business.Credit.LimitExpiryDays)
	limit := &model.CreditLimit{
		UserID:        userID,
		ApprovedLimit: approvedLimit,
		Status:        model.CreditLimitStatusActive,
		ReferenceCode: idgen.GenerateCreditLimitRef(),
		ExpiresAt:     &expiresAt,
	}
	return s.limitRepo.GetOrCreate(ctx, limit)
}

func (s *CreditLimitService) GetLimit(ctx context.Context, userID int64) (*model.CreditLimit, error) {
	return s.limitRepo.GetByUserID(ctx, userID)
}

// AvailableLimit 可用额度，无授信视为 0
func (s *CreditLimitService) AvailableLimit(ctx context.Context, userID int64) (int64, error) {
	limit, err := s.limitRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrCreditLimitNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if !limit.IsUsable(time.Now()) {
		return 0, nil
	}
	return limit.AvailableLimit(), nil
}

// UseCreditTx 事务内占用额度
// 先校验可用性再条件更新，版本冲突交由调用方重试
func (s *CreditLimitService) UseCreditTx(ctx context.Context, tx *gorm.DB, userID, amount int64) error {
	limit, err := s.limitRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	if !limit.IsUsable(time.Now()) {
		return repository.ErrInsufficientCredit
	}
	return s.limitRepo.Consume(ctx, tx, userID, amount, limit.Version)
}

// ReleaseCreditTx 事务内释放额度
// 释放超过已用额度时截断为零并告警（通常是重复释放）
func (s *CreditLimitService) ReleaseCreditTx(ctx context.Context, tx *gorm.DB, userID, amount int64) error {
	clamped, err := s.limitRepo.Release(ctx, tx, userID, amount)
	if err != nil {
		return err
	}
	if clamped {
		log.Printf("释放额度超过已用额度，已截断: userID=%d, amount=%d", userID, amount)
	}
	return nil
}

func (s *CreditLimitService) Suspend(ctx context.Context, userID int64) error {
	return s.limitRepo.UpdateStatus(ctx, userID, model.CreditLimitStatusSuspended)
}

func (s *CreditLimitService) Reactivate(ctx context.Context, userID int64) error {
	return s.limitRepo.UpdateStatus(ctx, userID, model.CreditLimitStatusActive)
}

// EffectiveGraceDays 宽限期：用户级覆盖优先，缺省取系统配置
func (s *CreditLimitService) EffectiveGraceDays(limit *model.CreditLimit) int {
	if limit != nil && limit.GracePeriodDays != nil && *limit.GracePeriodDays > 0 {
		return *limit.GracePeriodDays
	}
	return s.cfg.Business.Credit.GracePeriodDays
}
