package service

import (
	"context"
	"testing"
	"time"

	"creditpay/internal/model"
	"creditpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func backdateInstallmentDue(t *testing.T, db *gorm.DB, installmentID int64, due time.Time) {
	t.Helper()
	err := db.Model(&model.Installment{}).
		Where("id = ?", installmentID).
		Update("due_date", due).Error
	require.NoError(t, err)
}

func TestCreatePlanAllocatesInstallments(t *testing.T) {
	db := newTestDB(t)
	svc := NewInstallmentService(db, newTestConfig())
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, 6001, model.InstallmentSourcePurchase, "PR123", 1200000, 12, 0.2)
	require.NoError(t, err)
	// 单利：1200000 * 0.2 * 12 / 12 = 240000
	assert.Equal(t, int64(1440000), plan.TotalAmount)
	assert.Equal(t, model.InstallmentPlanStatusActive, plan.Status)

	plan, installments, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, installments, 12)

	var sum int64
	for i, inst := range installments {
		assert.Equal(t, i+1, inst.Sequence)
		assert.Equal(t, int64(120000), inst.Amount)
		assert.Equal(t, model.InstallmentStatusPending, inst.Status)
		if i > 0 {
			assert.True(t, inst.DueDate.After(installments[i-1].DueDate))
		}
		sum += inst.Amount
	}
	assert.Equal(t, plan.TotalAmount, sum)
}

func TestCreatePlanRemainderOnLastInstallment(t *testing.T) {
	db := newTestDB(t)
	svc := NewInstallmentService(db, newTestConfig())
	ctx := context.Background()

	// 100000 / 3 不整除，尾差并入最后一期
	plan, err := svc.CreatePlan(ctx, 6002, model.InstallmentSourcePurchase, "PR124", 100000, 3, 0)
	require.NoError(t, err)
	_, installments, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, installments, 3)
	assert.Equal(t, int64(33333), installments[0].Amount)
	assert.Equal(t, int64(33333), installments[1].Amount)
	assert.Equal(t, int64(33334), installments[2].Amount)
}

func TestPayInstallmentOnTime(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	walletSvc := setupSystemWallets(t, db, cfg, 1000000)
	svc := NewInstallmentService(db, cfg)
	ctx := context.Background()

	_, err := walletSvc.Deposit(ctx, 6003, model.WalletKindPersonal, 300000)
	require.NoError(t, err)
	plan, err := svc.CreatePlan(ctx, 6003, model.InstallmentSourcePurchase, "PR125", 200000, 2, 0)
	require.NoError(t, err)
	_, installments, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)

	inst, err := svc.Pay(ctx, 6003, installments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstallmentStatusPaid, inst.Status)
	assert.Equal(t, int64(100000), inst.AmountPaid)
	assert.Equal(t, int64(0), inst.PenaltyPaid)
	assert.NotEmpty(t, inst.TransactionRef)
	require.NotNil(t, inst.PaidAt)

	wallet, err := walletSvc.GetWallet(ctx, 6003, model.WalletKindPersonal)
	require.NoError(t, err)
	assert.Equal(t, int64(200000), wallet.Balance)

	// 重复支付被拒绝
	_, err = svc.Pay(ctx, 6003, installments[0].ID)
	assert.ErrorIs(t, err, repository.ErrInstallmentStatusInvalid)

	// 还有未结清期数，计划保持 active
	plan, _, err = svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstallmentPlanStatusActive, plan.Status)
}

func TestPayOverdueInstallmentWithPenalty(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	walletSvc := setupSystemWallets(t, db, cfg, 1000000)
	svc := NewInstallmentService(db, cfg)
	ctx := context.Background()

	_, err := walletSvc.Deposit(ctx, 6004, model.WalletKindPersonal, 300000)
	require.NoError(t, err)
	plan, err := svc.CreatePlan(ctx, 6004, model.InstallmentSourcePurchase, "PR126", 240000, 2, 0)
	require.NoError(t, err)
	_, installments, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)

	// 逾期两天
	backdateInstallmentDue(t, db, installments[0].ID, time.Now().Add(-49*time.Hour))

	marked, err := svc.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	// 罚息 = 120000 * 0.005 * 2 = 1200
	inst, err := svc.Pay(ctx, 6004, installments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstallmentStatusPaid, inst.Status)
	assert.Equal(t, int64(120000), inst.AmountPaid)
	assert.Equal(t, int64(1200), inst.PenaltyPaid)

	wallet, err := walletSvc.GetWallet(ctx, 6004, model.WalletKindPersonal)
	require.NoError(t, err)
	assert.Equal(t, int64(178800), wallet.Balance)
}

func TestPlanClosesWhenAllPaid(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	walletSvc := setupSystemWallets(t, db, cfg, 1000000)
	svc := NewInstallmentService(db, cfg)
	ctx := context.Background()

	_, err := walletSvc.Deposit(ctx, 6005, model.WalletKindPersonal, 500000)
	require.NoError(t, err)
	plan, err := svc.CreatePlan(ctx, 6005, model.InstallmentSourcePurchase, "PR127", 200000, 2, 0)
	require.NoError(t, err)
	_, installments, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)

	for _, inst := range installments {
		_, err = svc.Pay(ctx, 6005, inst.ID)
		require.NoError(t, err)
	}

	plan, _, err = svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstallmentPlanStatusClosed, plan.Status)
	require.NotNil(t, plan.ClosedAt)
}

func TestPayInstallmentInsufficientFunds(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	walletSvc := setupSystemWallets(t, db, cfg, 1000000)
	svc := NewInstallmentService(db, cfg)
	ctx := context.Background()

	_, err := walletSvc.Deposit(ctx, 6006, model.WalletKindPersonal, 100)
	require.NoError(t, err)
	plan, err := svc.CreatePlan(ctx, 6006, model.InstallmentSourcePurchase, "PR128", 200000, 2, 0)
	require.NoError(t, err)
	_, installments, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)

	_, err = svc.Pay(ctx, 6006, installments[0].ID)
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	// 支付失败不改变期数状态
	_, installments, err = svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstallmentStatusPending, installments[0].Status)
}

func TestPayOthersInstallmentRejected(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	walletSvc := setupSystemWallets(t, db, cfg, 1000000)
	svc := NewInstallmentService(db, cfg)
	ctx := context.Background()

	_, err := walletSvc.Deposit(ctx, 6007, model.WalletKindPersonal, 300000)
	require.NoError(t, err)
	_, err = walletSvc.Deposit(ctx, 6008, model.WalletKindPersonal, 300000)
	require.NoError(t, err)
	plan, err := svc.CreatePlan(ctx, 6007, model.InstallmentSourcePurchase, "PR129", 200000, 2, 0)
	require.NoError(t, err)
	_, installments, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)

	_, err = svc.Pay(ctx, 6008, installments[0].ID)
	assert.Error(t, err)
}
