package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"creditpay/internal/config"
	"creditpay/internal/model"
	"creditpay/internal/repository"
	"creditpay/pkg/period"

	"gorm.io/gorm"
)

// InstallmentService 分期还款
//
// 分期计划独立于月度账单：本息均摊到各期，账期按波斯历月推进；
// 逾期单期按日计罚，结清时罚息并入实缴金额
type InstallmentService struct {
	db              *gorm.DB
	cfg             *config.Config
	installmentRepo *repository.InstallmentRepository
	walletRepo      *repository.WalletRepository
	walletSvc       *WalletService
}

func NewInstallmentService(db *gorm.DB, cfg *config.Config) *InstallmentService {
	return &InstallmentService{
		db:              db,
		cfg:             cfg,
		installmentRepo: repository.NewInstallmentRepository(db),
		walletRepo:      repository.NewWalletRepository(db),
		walletSvc:       NewWalletService(db, cfg),
	}
}

// CreatePlan 生成分期计划
// 利息按单利：principal * annualRate * months / 12，尾差并入最后一期
func (s *InstallmentService) CreatePlan(ctx context.Context, userID int64, sourceType, sourceRef string, principal int64, months int, annualRate float64) (*model.InstallmentPlan, error) {
	if principal <= 0 {
		return nil, errors.New("分期本金必须大于0")
	}
	if months <= 0 {
		return nil, errors.New("分期期数必须大于0")
	}
	if annualRate < 0 {
		return nil, errors.New("年化利率不能为负")
	}

	interest := int64(float64(principal) * annualRate * float64(months) / 12)
	total := principal + interest
	perInstallment := total / int64(months)

	plan := &model.InstallmentPlan{
		UserID:         userID,
		SourceType:     sourceType,
		SourceRef:      sourceRef,
		Principal:      principal,
		TotalAmount:    total,
		DurationMonths: months,
		PeriodMonths:   1,
		AnnualRate:     annualRate,
		Status:         model.InstallmentPlanStatusActive,
	}

	base := period.Of(time.Now())
	installments := make([]*model.Installment, 0, months)
	allocated := int64(0)
	for i := 1; i <= months; i++ {
		amount := perInstallment
		if i == months {
			amount = total - allocated
		}
		allocated += amount
		installments = append(installments, &model.Installment{
			Sequence: i,
			Amount:   amount,
			DueDate:  base.AddMonths(i).FirstDay(),
			Status:   model.InstallmentStatusPending,
		})
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return s.installmentRepo.CreatePlan(ctx, tx, plan, installments)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("分期计划创建: planID=%d, userID=%d, principal=%d, months=%d", plan.ID, userID, principal, months)
	return plan, nil
}

func (s *InstallmentService) GetPlan(ctx context.Context, planID int64) (*model.InstallmentPlan, []*model.Installment, error) {
	plan, err := s.installmentRepo.GetPlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	installments, err := s.installmentRepo.ListByPlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	return plan, installments, nil
}

func (s *InstallmentService) ListPlans(ctx context.Context, userID int64) ([]*model.InstallmentPlan, error) {
	return s.installmentRepo.ListPlansByUser(ctx, userID)
}

// Pay 结清单期：个人钱包 -> 系统资金户，本金加逾期罚息一次付清
// 全部期数结清后计划自动关账
func (s *InstallmentService) Pay(ctx context.Context, userID, installmentID int64) (*model.Installment, error) {
	wallet, err := s.walletRepo.GetByUserAndKind(ctx, userID, model.WalletKindPersonal)
	if err != nil {
		return nil, err
	}
	gateway, err := s.walletRepo.GetByUserAndKind(ctx, model.SystemUserID, model.WalletKindGateway)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = withRetry(s.cfg.Business.MaxRetryCount, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			inst, err := s.installmentRepo.GetInstallmentForUpdate(ctx, tx, installmentID)
			if err != nil {
				return err
			}
			plan, err := s.installmentRepo.GetPlanForUpdate(ctx, tx, inst.PlanID)
			if err != nil {
				return err
			}
			if plan.UserID != userID {
				return errors.New("非本人分期")
			}
			if inst.Status == model.InstallmentStatusPaid {
				return repository.ErrInstallmentStatusInvalid
			}

			penalty := inst.CurrentPenalty(now, s.cfg.Business.Credit.InstallmentPenaltyRate)
			total := inst.Amount - inst.AmountPaid + penalty

			trans, err := s.walletSvc.TransferTx(ctx, tx, wallet.ID, gateway.ID, total,
				model.TransactionPurposeRepayment, fmt.Sprintf("INST%d", inst.ID), "分期还款")
			if err != nil {
				return err
			}

			if err := s.installmentRepo.MarkPaid(ctx, tx, inst.ID, inst.Amount, penalty, trans.ReferenceCode, now); err != nil {
				return err
			}

			unpaid, err := s.installmentRepo.CountUnpaid(ctx, tx, inst.PlanID)
			if err != nil {
				return err
			}
			if unpaid == 0 {
				if err := s.installmentRepo.ClosePlan(ctx, tx, inst.PlanID, now); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("分期还款成功: installmentID=%d, userID=%d", installmentID, userID)
	inst, err := s.installmentRepo.GetInstallment(ctx, installmentID)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// MarkOverdue 标记逾期期数，返回影响行数
func (s *InstallmentService) MarkOverdue(ctx context.Context) (int64, error) {
	return s.installmentRepo.MarkOverdueBefore(ctx, time.Now())
}
