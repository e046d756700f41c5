package service

import (
	"context"
	"sync"
	"testing"

	"creditpay/internal/model"
	"creditpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestGrantLimitIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewCreditLimitService(db, newTestConfig())
	ctx := context.Background()

	limit, err := svc.GrantLimit(ctx, 1001, 500000)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), limit.ApprovedLimit)
	assert.Equal(t, model.CreditLimitStatusActive, limit.Status)
	assert.NotEmpty(t, limit.ReferenceCode)

	// 重复授信返回既有记录，额度不变
	again, err := svc.GrantLimit(ctx, 1001, 900000)
	require.NoError(t, err)
	assert.Equal(t, limit.ID, again.ID)
	assert.Equal(t, int64(500000), again.ApprovedLimit)
}

func TestUseAndReleaseCredit(t *testing.T) {
	db := newTestDB(t)
	svc := NewCreditLimitService(db, newTestConfig())
	ctx := context.Background()

	_, err := svc.GrantLimit(ctx, 1002, 1000000)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.UseCreditTx(ctx, tx, 1002, 400000)
	})
	require.NoError(t, err)

	available, err := svc.AvailableLimit(ctx, 1002)
	require.NoError(t, err)
	assert.Equal(t, int64(600000), available)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.ReleaseCreditTx(ctx, tx, 1002, 400000)
	})
	require.NoError(t, err)

	available, err = svc.AvailableLimit(ctx, 1002)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), available)
}

func TestUseCreditInsufficient(t *testing.T) {
	db := newTestDB(t)
	svc := NewCreditLimitService(db, newTestConfig())
	ctx := context.Background()

	_, err := svc.GrantLimit(ctx, 1003, 100)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.UseCreditTx(ctx, tx, 1003, 200)
	})
	assert.ErrorIs(t, err, repository.ErrInsufficientCredit)

	// 失败不占额度
	available, err := svc.AvailableLimit(ctx, 1003)
	require.NoError(t, err)
	assert.Equal(t, int64(100), available)
}

func TestReleaseCreditClampsAtZero(t *testing.T) {
	db := newTestDB(t)
	svc := NewCreditLimitService(db, newTestConfig())
	ctx := context.Background()

	_, err := svc.GrantLimit(ctx, 1004, 1000)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.UseCreditTx(ctx, tx, 1004, 300)
	})
	require.NoError(t, err)

	// 超额释放截断到零，不会把已用额度打成负数
	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.ReleaseCreditTx(ctx, tx, 1004, 900)
	})
	require.NoError(t, err)

	limit, err := svc.GetLimit(ctx, 1004)
	require.NoError(t, err)
	assert.Equal(t, int64(0), limit.UsedLimit)
}

func TestSuspendedLimitUnusable(t *testing.T) {
	db := newTestDB(t)
	svc := NewCreditLimitService(db, newTestConfig())
	ctx := context.Background()

	_, err := svc.GrantLimit(ctx, 1005, 1000)
	require.NoError(t, err)
	require.NoError(t, svc.Suspend(ctx, 1005))

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.UseCreditTx(ctx, tx, 1005, 100)
	})
	assert.ErrorIs(t, err, repository.ErrInsufficientCredit)

	available, err := svc.AvailableLimit(ctx, 1005)
	require.NoError(t, err)
	assert.Equal(t, int64(0), available)
}

// 并发占用同一额度：恰好一笔成功，其余额度不足
func TestConcurrentUseCredit(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewCreditLimitService(db, cfg)
	ctx := context.Background()

	_, err := svc.GrantLimit(ctx, 1006, 1000)
	require.NoError(t, err)

	const workers = 10
	results := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = withRetry(workers, func() error {
				return db.Transaction(func(tx *gorm.DB) error {
					return svc.UseCreditTx(ctx, tx, 1006, 600)
				})
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, repository.ErrInsufficientCredit)
		}
	}
	assert.Equal(t, 1, succeeded)

	limit, err := svc.GetLimit(ctx, 1006)
	require.NoError(t, err)
	assert.Equal(t, int64(600), limit.UsedLimit)
}
