package service

import (
	"context"
	"testing"

	"creditpay/internal/model"
	"creditpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositAndTransfer(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := setupSystemWallets(t, db, cfg, 1000000)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, 2001, model.WalletKindPersonal, 50000)
	require.NoError(t, err)
	_, err = svc.GetOrCreateWallet(ctx, 2002, model.WalletKindPersonal)
	require.NoError(t, err)

	sender, err := svc.GetWallet(ctx, 2001, model.WalletKindPersonal)
	require.NoError(t, err)
	receiver, err := svc.GetWallet(ctx, 2002, model.WalletKindPersonal)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), sender.Balance)

	trans, err := svc.Transfer(ctx, sender.ID, receiver.ID, 20000, model.TransactionPurposeTransfer, "", "测试转账")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusSuccess, trans.Status)
	assert.Equal(t, int64(50000), trans.BalanceBefore)
	assert.Equal(t, int64(30000), trans.BalanceAfter)

	sender, err = svc.GetWallet(ctx, 2001, model.WalletKindPersonal)
	require.NoError(t, err)
	receiver, err = svc.GetWallet(ctx, 2002, model.WalletKindPersonal)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), sender.Balance)
	assert.Equal(t, int64(20000), receiver.Balance)

	// 资金只在钱包间移动，系统总额不变
	total, err := svc.TotalBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), total)
}

func TestTransferInsufficientFundsRecordsFailure(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := setupSystemWallets(t, db, cfg, 1000000)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, 2003, model.WalletKindPersonal, 100)
	require.NoError(t, err)
	sender, err := svc.GetWallet(ctx, 2003, model.WalletKindPersonal)
	require.NoError(t, err)
	receiverWallet, err := svc.GetOrCreateWallet(ctx, 2004, model.WalletKindPersonal)
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, sender.ID, receiverWallet.ID, 500, model.TransactionPurposeTransfer, "", "")
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	// 余额未动，失败流水已落库
	sender, err = svc.GetWallet(ctx, 2003, model.WalletKindPersonal)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sender.Balance)

	transactions, total, err := svc.ListTransactions(ctx, sender.ID, 1, 10)
	require.NoError(t, err)
	require.NotZero(t, total)
	failed := false
	for _, trans := range transactions {
		if trans.Status == model.TransactionStatusFailed {
			failed = true
		}
	}
	assert.True(t, failed)
}

func TestEnsureSystemWalletsIdempotent(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewWalletService(db, cfg)
	ctx := context.Background()

	require.NoError(t, svc.EnsureSystemWallets(ctx))
	require.NoError(t, svc.EnsureSystemWallets(ctx))

	var count int64
	require.NoError(t, db.Model(&model.Wallet{}).Where("user_id = ?", model.SystemUserID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestWalletNumberPrefix(t *testing.T) {
	db := newTestDB(t)
	svc := NewWalletService(db, newTestConfig())
	ctx := context.Background()

	wallet, err := svc.GetOrCreateWallet(ctx, 2005, model.WalletKindMerchant)
	require.NoError(t, err)
	assert.Len(t, wallet.WalletNumber, 12)
	assert.Equal(t, model.WalletKindPrefix[model.WalletKindMerchant], wallet.WalletNumber[:2])
}
