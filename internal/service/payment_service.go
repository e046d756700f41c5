package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"creditpay/internal/config"
	"creditpay/internal/infrastructure/lock"
	"creditpay/internal/model"
	"creditpay/internal/repository"
	"creditpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrRequestExpired       = errors.New("支付请求已过期")
	ErrRequestStateConflict = errors.New("支付请求状态不允许该操作")
	ErrMerchantMismatch     = errors.New("非本商户的支付请求")
)

// PaymentService 担保支付流程
//
// 两段式：商户发起 -> 客户确认（资金进担保户）-> 商户核验（担保户结算给商户）
// 任一阶段超时或取消，担保户资金原路退回出资钱包
type PaymentService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	requestRepo *repository.PaymentRequestRepository
	walletRepo  *repository.WalletRepository
	outboxRepo  *repository.OutboxRepository
	walletSvc   *WalletService
	stmtSvc     *StatementService
}

func NewPaymentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *PaymentService {
	return &PaymentService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		requestRepo: repository.NewPaymentRequestRepository(db),
		walletRepo:  repository.NewWalletRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		walletSvc:   NewWalletService(db, cfg),
		stmtSvc:     NewStatementService(db, redisClient, cfg),
	}
}

func (s *PaymentService) lockRequest(ctx context.Context, reference, holder string) (func(), error) {
	if s.redisClient == nil {
		return func() {}, nil
	}
	reqLock := lock.NewPaymentRequestLock(s.redisClient, reference, holder)
	if err := reqLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	return func() { reqLock.Unlock(ctx) }, nil
}

func (s *PaymentService) emitEvent(ctx context.Context, tx *gorm.DB, key, eventType string, payload map[string]interface{}) error {
	payloadBytes, _ := json.Marshal(payload)
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      s.cfg.Kafka.Topic.PaymentEvents,
		EventType:  eventType,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	return s.outboxRepo.Create(ctx, tx, msg)
}

// CreateRequest 商户发起收款请求
func (s *PaymentService) CreateRequest(ctx context.Context, merchantID, amount int64, description string) (*model.PaymentRequest, error) {
	if amount <= 0 {
		return nil, errors.New("收款金额必须大于0")
	}

	// 商户钱包提前就位，核验阶段不再有创建分支
	if _, err := s.walletRepo.GetOrCreate(ctx, merchantID, model.WalletKindMerchant); err != nil {
		return nil, err
	}

	req := &model.PaymentRequest{
		ReferenceCode: idgen.GeneratePaymentRequestRef(),
		MerchantID:    merchantID,
		Amount:        amount,
		Status:        model.PaymentRequestStatusCreated,
		Description:   description,
		ExpiresAt:     time.Now().Add(time.Duration(s.cfg.Business.Payment.RequestExpiryMinutes) * time.Minute),
	}
	if err := s.requestRepo.Create(ctx, nil, req); err != nil {
		return nil, err
	}

	log.Printf("支付请求创建: reference=%s, merchantID=%d, amount=%d", req.ReferenceCode, merchantID, amount)
	return req, nil
}

func (s *PaymentService) GetRequest(ctx context.Context, reference string) (*model.PaymentRequest, error) {
	return s.requestRepo.GetByReference(ctx, reference)
}

// Confirm 客户确认支付：出资钱包 -> 担保户
//
// useCredit 为真时走信用支付：先由系统资金户向客户信用钱包放款，
// 同时占用授信并在当前账单记一笔消费，再由信用钱包入担保户。
// 三步同事务，额度不足整体回滚
func (s *PaymentService) Confirm(ctx context.Context, reference string, customerID int64, useCredit bool) (*model.PaymentRequest, error) {
	unlock, err := s.lockRequest(ctx, reference, fmt.Sprintf("confirm-%d", customerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := s.requestRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if req.Status != model.PaymentRequestStatusCreated {
		return nil, ErrRequestStateConflict
	}
	now := time.Now()
	if req.IsExpired(now) {
		// 懒过期：确认路径撞上超时请求，就地过期
		if err := s.expireOne(ctx, req); err != nil {
			return nil, err
		}
		return nil, ErrRequestExpired
	}

	fundingKind := model.WalletKindPersonal
	if useCredit {
		fundingKind = model.WalletKindCredit
	}
	funding, err := s.walletRepo.GetOrCreate(ctx, customerID, fundingKind)
	if err != nil {
		return nil, err
	}
	escrow, err := s.walletRepo.GetByUserAndKind(ctx, model.SystemUserID, model.WalletKindEscrow)
	if err != nil {
		return nil, err
	}
	var gateway *model.Wallet
	if useCredit {
		gateway, err = s.walletRepo.GetByUserAndKind(ctx, model.SystemUserID, model.WalletKindGateway)
		if err != nil {
			return nil, err
		}
	}

	err = withRetry(s.cfg.Business.MaxRetryCount, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if useCredit {
				// 信用放款：资金户 -> 信用钱包
				drawdown, err := s.walletSvc.TransferTx(ctx, tx, gateway.ID, funding.ID, req.Amount,
					model.TransactionPurposeTransfer, reference, "信用放款")
				if err != nil {
					return err
				}
				if _, err := s.stmtSvc.RecordPurchaseTx(ctx, tx, customerID, req.Amount, drawdown.ReferenceCode, req.Description); err != nil {
					return err
				}
			}

			if _, err := s.walletSvc.TransferTx(ctx, tx, funding.ID, escrow.ID, req.Amount,
				model.TransactionPurposeEscrowDebit, reference, "支付入担保户"); err != nil {
				return err
			}

			confirmDeadline := now.Add(time.Duration(s.cfg.Business.Payment.MerchantConfirmWindowMinutes) * time.Minute)
			return s.requestRepo.UpdateStatus(ctx, tx, reference,
				model.PaymentRequestStatusCreated, model.PaymentRequestStatusAwaitingMerchant,
				map[string]interface{}{
					"customer_id":       customerID,
					"funding_wallet_id": funding.ID,
					"paid_at":           now,
					"expires_at":        confirmDeadline,
				})
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("支付请求已确认: reference=%s, customerID=%d, useCredit=%v", reference, customerID, useCredit)
	return s.requestRepo.GetByReference(ctx, reference)
}

// Verify 商户核验：担保户 -> 商户钱包，请求终态 completed
func (s *PaymentService) Verify(ctx context.Context, reference string, merchantID int64) (*model.PaymentRequest, error) {
	unlock, err := s.lockRequest(ctx, reference, fmt.Sprintf("verify-%d", merchantID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := s.requestRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if req.MerchantID != merchantID {
		return nil, ErrMerchantMismatch
	}
	if req.Status == model.PaymentRequestStatusCompleted {
		// 重复核验按幂等处理
		return req, nil
	}
	if req.Status != model.PaymentRequestStatusAwaitingMerchant {
		return nil, ErrRequestStateConflict
	}
	now := time.Now()
	if req.IsExpired(now) {
		if err := s.expireOne(ctx, req); err != nil {
			return nil, err
		}
		return nil, ErrRequestExpired
	}

	escrow, err := s.walletRepo.GetByUserAndKind(ctx, model.SystemUserID, model.WalletKindEscrow)
	if err != nil {
		return nil, err
	}
	merchantWallet, err := s.walletRepo.GetByUserAndKind(ctx, merchantID, model.WalletKindMerchant)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 锁内复核：状态可能在锁外检查与事务之间被并发推进
		locked, err := s.requestRepo.GetByReferenceForUpdate(ctx, tx, reference)
		if err != nil {
			return err
		}
		if locked.Status != model.PaymentRequestStatusAwaitingMerchant {
			return ErrRequestStateConflict
		}

		trans, err := s.walletSvc.TransferTx(ctx, tx, escrow.ID, merchantWallet.ID, locked.Amount,
			model.TransactionPurposeSettlement, reference, "担保户结算")
		if err != nil {
			return err
		}

		if err := s.requestRepo.UpdateStatus(ctx, tx, reference,
			model.PaymentRequestStatusAwaitingMerchant, model.PaymentRequestStatusCompleted,
			map[string]interface{}{"completed_at": now}); err != nil {
			return err
		}

		return s.emitEvent(ctx, tx, reference, model.EventPaymentCompleted, map[string]interface{}{
			"reference":    reference,
			"merchant_id":  merchantID,
			"customer_id":  req.CustomerID,
			"amount":       req.Amount,
			"transaction":  trans.ReferenceCode,
			"completed_at": now.Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("支付请求已核验: reference=%s, merchantID=%d, amount=%d", reference, merchantID, req.Amount)
	return s.requestRepo.GetByReference(ctx, reference)
}

// Cancel 取消支付请求
// 终态请求返回当前状态（幂等）；已入担保户的资金原路退回
func (s *PaymentService) Cancel(ctx context.Context, reference string) (*model.PaymentRequest, error) {
	unlock, err := s.lockRequest(ctx, reference, "cancel")
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := s.requestRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return req, nil
	}

	if err := s.rollbackAndClose(ctx, req, model.PaymentRequestStatusCancelled); err != nil {
		return nil, err
	}

	log.Printf("支付请求已取消: reference=%s", reference)
	return s.requestRepo.GetByReference(ctx, reference)
}

// ExpireRequests 超时清扫，返回本次处理的请求数
func (s *PaymentService) ExpireRequests(ctx context.Context, batchSize int) (int, error) {
	requests, err := s.requestRepo.ListExpired(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range requests {
		if err := s.expireOne(ctx, req); err != nil {
			log.Printf("支付请求过期处理失败: reference=%s, err=%v", req.ReferenceCode, err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *PaymentService) expireOne(ctx context.Context, req *model.PaymentRequest) error {
	if req.IsTerminal() {
		return nil
	}
	if err := s.rollbackAndClose(ctx, req, model.PaymentRequestStatusExpired); err != nil {
		return err
	}
	log.Printf("支付请求已过期: reference=%s, status=%s", req.ReferenceCode, req.Status)
	return nil
}

// rollbackAndClose 关闭请求并回滚担保户资金
//
// created 阶段没有资金动作，直接收口状态。
// awaiting 阶段资金已在担保户：退回出资钱包；信用出资的还要归还放款
// 并释放授信（等价于一笔全额还款）
func (s *PaymentService) rollbackAndClose(ctx context.Context, req *model.PaymentRequest, toStatus string) error {
	if req.Status == model.PaymentRequestStatusCreated {
		return s.requestRepo.UpdateStatus(ctx, nil, req.ReferenceCode,
			model.PaymentRequestStatusCreated, toStatus, nil)
	}

	if req.FundingWalletID == nil || req.CustomerID == nil {
		return fmt.Errorf("支付请求缺少出资信息: %s", req.ReferenceCode)
	}

	funding, err := s.walletRepo.GetByID(ctx, *req.FundingWalletID)
	if err != nil {
		return err
	}
	escrow, err := s.walletRepo.GetByUserAndKind(ctx, model.SystemUserID, model.WalletKindEscrow)
	if err != nil {
		return err
	}
	var gateway *model.Wallet
	if funding.Kind == model.WalletKindCredit {
		gateway, err = s.walletRepo.GetByUserAndKind(ctx, model.SystemUserID, model.WalletKindGateway)
		if err != nil {
			return err
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		reversal, err := s.walletSvc.TransferTx(ctx, tx, escrow.ID, funding.ID, req.Amount,
			model.TransactionPurposeReversal, req.ReferenceCode, "担保户资金退回")
		if err != nil {
			return err
		}

		if funding.Kind == model.WalletKindCredit {
			// 归还放款：信用钱包 -> 资金户
			if _, err := s.walletSvc.TransferTx(ctx, tx, funding.ID, gateway.ID, req.Amount,
				model.TransactionPurposeTransfer, req.ReferenceCode, "信用放款归还"); err != nil {
				return err
			}
			if _, err := s.stmtSvc.ApplyPaymentTx(ctx, tx, *req.CustomerID, req.Amount, reversal.ReferenceCode); err != nil {
				return err
			}
		}

		if err := s.requestRepo.UpdateStatus(ctx, tx, req.ReferenceCode,
			model.PaymentRequestStatusAwaitingMerchant, toStatus, nil); err != nil {
			return err
		}

		return s.emitEvent(ctx, tx, req.ReferenceCode, model.EventPaymentReversed, map[string]interface{}{
			"reference":   req.ReferenceCode,
			"merchant_id": req.MerchantID,
			"customer_id": req.CustomerID,
			"amount":      req.Amount,
			"status":      toStatus,
			"transaction": reversal.ReferenceCode,
		})
	})
}

func (s *PaymentService) ListMerchantRequests(ctx context.Context, merchantID int64, page, pageSize int) ([]*model.PaymentRequest, int64, error) {
	return s.requestRepo.ListByMerchant(ctx, merchantID, page, pageSize)
}
