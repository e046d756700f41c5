package service

import (
	"context"
	"testing"
	"time"

	"creditpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func backdateRequestExpiry(t *testing.T, db *gorm.DB, reference string) {
	t.Helper()
	err := db.Model(&model.PaymentRequest{}).
		Where("reference_code = ?", reference).
		Update("expires_at", time.Now().Add(-time.Minute)).Error
	require.NoError(t, err)
}

func TestEscrowPaymentWalletFunded(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	walletSvc := setupSystemWallets(t, db, cfg, 1000000)
	svc := NewPaymentService(db, nil, cfg)
	ctx := context.Background()

	_, err := walletSvc.Deposit(ctx, 4001, model.WalletKindPersonal, 100000)
	require.NoError(t, err)

	req, err := svc.CreateRequest(ctx, 4002, 60000, "商品订单")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRequestStatusCreated, req.Status)

	req, err = svc.Confirm(ctx, req.ReferenceCode, 4001, false)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRequestStatusAwaitingMerchant, req.Status)
	require.NotNil(t, req.CustomerID)
	assert.Equal(t, int64(4001), *req.CustomerID)

	// 资金已入担保户，客户钱包扣款
	escrow, err := walletSvc.GetWallet(ctx, model.SystemUserID, model.WalletKindEscrow)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), escrow.Balance)
	customer, err := walletSvc.GetWallet(ctx, 4001, model.WalletKindPersonal)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), customer.Balance)

	req, err = svc.Verify(ctx, req.ReferenceCode, 4002)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRequestStatusCompleted, req.Status)

	merchant, err := walletSvc.GetWallet(ctx, 4002, model.WalletKindMerchant)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), merchant.Balance)
	escrow, err = walletSvc.GetWallet(ctx, model.SystemUserID, model.WalletKindEscrow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), escrow.Balance)

	// 重复核验幂等
	again, err := svc.Verify(ctx, req.ReferenceCode, 4002)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRequestStatusCompleted, again.Status)

	// 全程资金守恒
	total, err := walletSvc.TotalBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), total)
}

func TestEscrowPaymentCreditFunded(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	walletSvc := setupSystemWallets(t, db, cfg, 1000000)
	limitSvc := NewCreditLimitService(db, cfg)
	stmtSvc := NewStatementService(db, nil, cfg)
	svc := NewPaymentService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 4003, 500000)
	require.NoError(t, err)

	req, err := svc.CreateRequest(ctx, 4004, 200000, "信用购物")
	require.NoError(t, err)
	req, err = svc.Confirm(ctx, req.ReferenceCode, 4003, true)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRequestStatusAwaitingMerchant, req.Status)

	// 放款经信用钱包入担保户：信用钱包轧平，资金户垫付
	escrow, err := walletSvc.GetWallet(ctx, model.SystemUserID, model.WalletKindEscrow)
	require.NoError(t, err)
	assert.Equal(t, int64(200000), escrow.Balance)
	gateway, err := walletSvc.GetWallet(ctx, model.SystemUserID, model.WalletKindGateway)
	require.NoError(t, err)
	assert.Equal(t, int64(800000), gateway.Balance)
	creditWallet, err := walletSvc.GetWallet(ctx, 4003, model.WalletKindCredit)
	require.NoError(t, err)
	assert.Equal(t, int64(0), creditWallet.Balance)

	// 授信占用与账单消费同事务落账
	available, err := limitSvc.AvailableLimit(ctx, 4003)
	require.NoError(t, err)
	assert.Equal(t, int64(300000), available)
	stmt, err := stmtSvc.GetCurrentStatement(ctx, 4003)
	require.NoError(t, err)
	assert.Equal(t, int64(200000), stmt.ClosingBalance)

	req, err = svc.Verify(ctx, req.ReferenceCode, 4004)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRequestStatusCompleted, req.Status)

	merchant, err := walletSvc.GetWallet(ctx, 4004, model.WalletKindMerchant)
	require.NoError(t, err)
	assert.Equal(t, int64(200000), merchant.Balance)

	total, err := walletSvc.TotalBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), total)
}

func TestCancelCreditConfirmedUnwindsEverything(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	walletSvc := setupSystemWallets(t, db, cfg, 1000000)
	limitSvc := NewCreditLimitService(db, cfg)
	stmtSvc := NewStatementService(db, nil, cfg)
	svc := NewPaymentService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 4005, 500000)
	require.NoError(t, err)
	req, err := svc.CreateRequest(ctx, 4006, 200000, "")
	require.NoError(t, err)
	req, err = svc.Confirm(ctx, req.ReferenceCode, 4005, true)
	require.NoError(t, err)

	req, err = svc.Cancel(ctx, req.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRequestStatusCancelled, req.Status)

	// 资金原路退回：担保户清零，资金户复原
	escrow, err := walletSvc.GetWallet(ctx, model.SystemUserID, model.WalletKindEscrow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), escrow.Balance)
	gateway, err := walletSvc.GetWallet(ctx, model.SystemUserID, model.WalletKindGateway)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), gateway.Balance)

	// 授信释放、账单冲平
	available, err := limitSvc.AvailableLimit(ctx, 4005)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), available)
	stmt, err := stmtSvc.GetCurrentStatement(ctx, 4005)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stmt.ClosingBalance)

	// 重复取消幂等
	again, err := svc.Cancel(ctx, req.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRequestStatusCancelled, again.Status)
}

func TestConfirmExpiredRequest(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	setupSystemWallets(t, db, cfg, 0)
	svc := NewPaymentService(db, nil, cfg)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, 4007, 1000, "")
	require.NoError(t, err)
	backdateRequestExpiry(t, db, req.ReferenceCode)

	_, err = svc.Confirm(ctx, req.ReferenceCode, 4008, false)
	assert.ErrorIs(t, err, ErrRequestExpired)

	req, err = svc.GetRequest(ctx, req.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRequestStatusExpired, req.Status)
}

func TestVerifyWrongMerchant(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	walletSvc := setupSystemWallets(t, db, cfg, 1000000)
	svc := NewPaymentService(db, nil, cfg)
	ctx := context.Background()

	_, err := walletSvc.Deposit(ctx, 4009, model.WalletKindPersonal, 5000)
	require.NoError(t, err)
	req, err := svc.CreateRequest(ctx, 4010, 5000, "")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, req.ReferenceCode, 4009, false)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, req.ReferenceCode, 9999)
	assert.ErrorIs(t, err, ErrMerchantMismatch)
}

func TestVerifyBeforeConfirm(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	setupSystemWallets(t, db, cfg, 0)
	svc := NewPaymentService(db, nil, cfg)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, 4011, 1000, "")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, req.ReferenceCode, 4011)
	assert.ErrorIs(t, err, ErrRequestStateConflict)
}

func TestExpireRequestsSweepRefundsEscrow(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	walletSvc := setupSystemWallets(t, db, cfg, 1000000)
	svc := NewPaymentService(db, nil, cfg)
	ctx := context.Background()

	_, err := walletSvc.Deposit(ctx, 4012, model.WalletKindPersonal, 80000)
	require.NoError(t, err)
	req, err := svc.CreateRequest(ctx, 4013, 30000, "")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, req.ReferenceCode, 4012, false)
	require.NoError(t, err)
	backdateRequestExpiry(t, db, req.ReferenceCode)

	expired, err := svc.ExpireRequests(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	req, err = svc.GetRequest(ctx, req.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRequestStatusExpired, req.Status)

	// 担保户资金退回出资钱包
	customer, err := walletSvc.GetWallet(ctx, 4012, model.WalletKindPersonal)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), customer.Balance)
	escrow, err := walletSvc.GetWallet(ctx, model.SystemUserID, model.WalletKindEscrow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), escrow.Balance)
}
