package service

import (
	"context"
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
	ErrTransferExpired       = errors.New("转账请求已过期")
	ErrTransferStateConflict = errors.New("转账请求状态不允许该操作")
)

// TransferService 个人间转账
//
// 创建时在转出钱包上预留资金（余额不变，可用减少），
// 收款方接受后预留落地为实扣；取消或过期仅释放预留。
// 预留保证了接受时资金必然充足，接受路径不存在余额不足分支
type TransferService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	transferRepo    *repository.TransferRequestRepository
	walletRepo      *repository.WalletRepository
	transactionRepo *repository.TransactionRepository
}

func NewTransferService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *TransferService {
	return &TransferService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		transferRepo:    repository.NewTransferRequestRepository(db),
		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

func (s *TransferService) lockTransfer(ctx context.Context, reference, holder string) (func(), error) {
	if s.redisClient == nil {
		return func() {}, nil
	}
	trLock := lock.NewDistributedLock(s.redisClient,
		fmt.Sprintf("credit:lock:transfer:%s", reference), holder, 30*time.Second)
	if err := trLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	return func() { trLock.Unlock(ctx) }, nil
}

// CreateTransfer 发起转账并预留资金
func (s *TransferService) CreateTransfer(ctx context.Context, senderUserID int64, receiverWalletNumber string, amount int64, description string) (*model.WalletTransferRequest, error) {
	if amount <= 0 {
		return nil, errors.New("转账金额必须大于0")
	}

	sender, err := s.walletRepo.GetByUserAndKind(ctx, senderUserID, model.WalletKindPersonal)
	if err != nil {
		return nil, err
	}
	receiver, err := s.walletRepo.GetByNumber(ctx, receiverWalletNumber)
	if err != nil {
		return nil, err
	}
	if receiver.ID == sender.ID {
		return nil, errors.New("不能向本人钱包转账")
	}

	req := &model.WalletTransferRequest{
		ReferenceCode:    idgen.GenerateTransferRef(),
		SenderWalletID:   sender.ID,
		ReceiverWalletID: receiver.ID,
		Amount:           amount,
		Status:           model.TransferRequestStatusCreated,
		Description:      description,
		ExpiresAt:        time.Now().Add(time.Duration(s.cfg.Business.Payment.TransferExpiryMinutes) * time.Minute),
	}

	err = withRetry(s.cfg.Business.MaxRetryCount, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			wallet, err := s.walletRepo.GetByIDForUpdate(ctx, tx, sender.ID)
			if err != nil {
				return err
			}
			if err := s.walletRepo.Reserve(ctx, tx, sender.ID, amount, wallet.Version); err != nil {
				return err
			}
			return s.transferRepo.Create(ctx, tx, req)
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("转账请求创建: reference=%s, sender=%d, receiver=%s, amount=%d",
		req.ReferenceCode, senderUserID, receiverWalletNumber, amount)
	return req, nil
}

func (s *TransferService) GetTransfer(ctx context.Context, reference string) (*model.WalletTransferRequest, error) {
	return s.transferRepo.GetByReference(ctx, reference)
}

// Accept 收款方接受转账，预留落地为实扣
func (s *TransferService) Accept(ctx context.Context, reference string) (*model.WalletTransferRequest, error) {
	unlock, err := s.lockTransfer(ctx, reference, "accept")
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := s.transferRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if req.Status == model.TransferRequestStatusCompleted {
		return req, nil
	}
	if req.Status != model.TransferRequestStatusCreated {
		return nil, ErrTransferStateConflict
	}
	now := time.Now()
	if req.IsExpired(now) {
		if err := s.expireOne(ctx, req); err != nil {
			return nil, err
		}
		return nil, ErrTransferExpired
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 锁内复核：状态可能在锁外检查与事务之间被并发推进
		locked, err := s.transferRepo.GetByReferenceForUpdate(ctx, tx, reference)
		if err != nil {
			return err
		}
		if locked.Status != model.TransferRequestStatusCreated {
			return ErrTransferStateConflict
		}

		sender, err := s.walletRepo.GetByIDForUpdate(ctx, tx, req.SenderWalletID)
		if err != nil {
			return err
		}
		if err := s.walletRepo.DebitReserved(ctx, tx, req.SenderWalletID, req.Amount); err != nil {
			return err
		}
		if err := s.walletRepo.Credit(ctx, tx, req.ReceiverWalletID, req.Amount); err != nil {
			return err
		}

		trans := &model.Transaction{
			ReferenceCode: idgen.GenerateTransactionRef(),
			SourceID:      req.SenderWalletID,
			DestinationID: req.ReceiverWalletID,
			Amount:        req.Amount,
			Status:        model.TransactionStatusSuccess,
			Purpose:       model.TransactionPurposeTransfer,
			RequestRef:    reference,
			BalanceBefore: sender.Balance,
			BalanceAfter:  sender.Balance - req.Amount,
			Description:   "个人转账",
		}
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return err
		}

		return s.transferRepo.UpdateStatus(ctx, tx, reference,
			model.TransferRequestStatusCreated, model.TransferRequestStatusCompleted)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("转账已完成: reference=%s, amount=%d", reference, req.Amount)
	return s.transferRepo.GetByReference(ctx, reference)
}

// Cancel 取消转账并释放预留（终态请求幂等返回）
func (s *TransferService) Cancel(ctx context.Context, reference string) (*model.WalletTransferRequest, error) {
	unlock, err := s.lockTransfer(ctx, reference, "cancel")
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := s.transferRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return req, nil
	}

	err = s.releaseAndClose(ctx, req, model.TransferRequestStatusCancelled)
	if err != nil {
		return nil, err
	}

	log.Printf("转账已取消: reference=%s", reference)
	return s.transferRepo.GetByReference(ctx, reference)
}

// ExpireTransfers 超时清扫
func (s *TransferService) ExpireTransfers(ctx context.Context, batchSize int) (int, error) {
	requests, err := s.transferRepo.ListExpired(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range requests {
		if err := s.expireOne(ctx, req); err != nil {
			log.Printf("转账过期处理失败: reference=%s, err=%v", req.ReferenceCode, err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *TransferService) expireOne(ctx context.Context, req *model.WalletTransferRequest) error {
	if req.IsTerminal() {
		return nil
	}
	return s.releaseAndClose(ctx, req, model.TransferRequestStatusExpired)
}

func (s *TransferService) releaseAndClose(ctx context.Context, req *model.WalletTransferRequest, toStatus string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.transferRepo.UpdateStatus(ctx, tx, req.ReferenceCode,
			model.TransferRequestStatusCreated, toStatus); err != nil {
			return err
		}
		return s.walletRepo.ReleaseReserve(ctx, tx, req.SenderWalletID, req.Amount)
	})
}
