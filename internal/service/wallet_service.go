package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"creditpay/internal/config"
	"creditpay/internal/model"
	"creditpay/internal/repository"
	"creditpay/pkg/idgen"

	"gorm.io/gorm"
)

type WalletService struct {
	db              *gorm.DB
	cfg             *config.Config
	walletRepo      *repository.WalletRepository
	transactionRepo *repository.TransactionRepository
}

func NewWalletService(db *gorm.DB, cfg *config.Config) *WalletService {
	return &WalletService{
		db:              db,
		cfg:             cfg,
		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// EnsureSystemWallets 初始化系统钱包（担保户 / 资金户）
// 启动时调用，幂等
func (s *WalletService) EnsureSystemWallets(ctx context.Context) error {
	if _, err := s.walletRepo.GetOrCreate(ctx, model.SystemUserID, model.WalletKindEscrow); err != nil {
		return fmt.Errorf("初始化担保户失败: %w", err)
	}
	if _, err := s.walletRepo.GetOrCreate(ctx, model.SystemUserID, model.WalletKindGateway); err != nil {
		return fmt.Errorf("初始化资金户失败: %w", err)
	}
	return nil
}

func (s *WalletService) GetOrCreateWallet(ctx context.Context, userID int64, kind string) (*model.Wallet, error) {
	if _, ok := model.WalletKindPrefix[kind]; !ok {
		return nil, fmt.Errorf("未知钱包类型: %s", kind)
	}
	return s.walletRepo.GetOrCreate(ctx, userID, kind)
}

func (s *WalletService) GetWallet(ctx context.Context, userID int64, kind string) (*model.Wallet, error) {
	return s.walletRepo.GetByUserAndKind(ctx, userID, kind)
}

func (s *WalletService) GetWalletByNumber(ctx context.Context, walletNumber string) (*model.Wallet, error) {
	return s.walletRepo.GetByNumber(ctx, walletNumber)
}

// Deposit 充值：系统资金户 -> 用户钱包
func (s *WalletService) Deposit(ctx context.Context, userID int64, kind string, amount int64) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, errors.New("充值金额必须大于0")
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	gateway, err := s.walletRepo.GetByUserAndKind(ctx, model.SystemUserID, model.WalletKindGateway)
	if err != nil {
		return nil, err
	}

	var trans *model.Transaction
	err = s.db.Transaction(func(tx *gorm.DB) error {
		trans, err = s.TransferTx(ctx, tx, gateway.ID, wallet.ID, amount, model.TransactionPurposeTransfer, "", "充值入账")
		return err
	})
	if err != nil {
		return nil, err
	}
	return trans, nil
}

// TransferTx 事务内转账核心
// 扣减、入账、流水落库三步同事务提交，任一步失败整体回滚
func (s *WalletService) TransferTx(ctx context.Context, tx *gorm.DB, sourceID, destinationID, amount int64, purpose, requestRef, description string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, errors.New("转账金额必须大于0")
	}
	if sourceID == destinationID {
		return nil, errors.New("转出转入钱包相同")
	}

	source, err := s.walletRepo.GetByIDForUpdate(ctx, tx, sourceID)
	if err != nil {
		return nil, err
	}

	if err := s.walletRepo.Debit(ctx, tx, sourceID, amount, source.Version); err != nil {
		return nil, err
	}
	if err := s.walletRepo.Credit(ctx, tx, destinationID, amount); err != nil {
		return nil, err
	}

	trans := &model.Transaction{
		ReferenceCode: idgen.GenerateTransactionRef(),
		SourceID:      sourceID,
		DestinationID: destinationID,
		Amount:        amount,
		Status:        model.TransactionStatusSuccess,
		Purpose:       purpose,
		RequestRef:    requestRef,
		BalanceBefore: source.Balance,
		BalanceAfter:  source.Balance - amount,
		Description:   description,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	return trans, nil
}

// Transfer 独立转账（非嵌入其他业务事务）
// 失败也落一条 failed 流水，便于审计排查
func (s *WalletService) Transfer(ctx context.Context, sourceID, destinationID, amount int64, purpose, requestRef, description string) (*model.Transaction, error) {
	var trans *model.Transaction
	err := withRetry(s.cfg.Business.MaxRetryCount, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var innerErr error
			trans, innerErr = s.TransferTx(ctx, tx, sourceID, destinationID, amount, purpose, requestRef, description)
			return innerErr
		})
	})

	if err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			s.recordFailed(ctx, sourceID, destinationID, amount, purpose, requestRef, err.Error())
		}
		return nil, err
	}
	return trans, nil
}

// recordFailed 失败流水独立落库（业务事务已回滚）
func (s *WalletService) recordFailed(ctx context.Context, sourceID, destinationID, amount int64, purpose, requestRef, reason string) {
	trans := &model.Transaction{
		ReferenceCode: idgen.GenerateTransactionRef(),
		SourceID:      sourceID,
		DestinationID: destinationID,
		Amount:        amount,
		Status:        model.TransactionStatusFailed,
		Purpose:       purpose,
		RequestRef:    requestRef,
		Description:   reason,
	}
	if err := s.transactionRepo.Create(ctx, nil, trans); err != nil {
		log.Printf("记录失败流水失败: source=%d dest=%d amount=%d err=%v", sourceID, destinationID, amount, err)
	}
}

func (s *WalletService) ListTransactions(ctx context.Context, walletID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.ListByWallet(ctx, walletID, page, pageSize)
}

// TotalBalance 全系统余额合计，对账用
func (s *WalletService) TotalBalance(ctx context.Context) (int64, error) {
	return s.walletRepo.SumBalances(ctx)
}
