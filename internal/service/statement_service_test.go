package service

import (
	"context"
	"testing"
	"time"

	"creditpay/internal/model"
	"creditpay/internal/repository"
	"creditpay/pkg/period"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// backdateStatementPeriod 把账单账期改到 N 个月前，模拟跨账期后的存量 current 账单
func backdateStatementPeriod(t *testing.T, db *gorm.DB, statementID int64, monthsAgo int) {
	t.Helper()
	prev := period.Current().AddMonths(-monthsAgo)
	err := db.Model(&model.Statement{}).
		Where("id = ?", statementID).
		Updates(map[string]interface{}{"year": prev.Year, "month": prev.Month}).Error
	require.NoError(t, err)
}

// backdateDueDate 把待还账单的宽限期截止时间改到过去，让裁定任务立即命中
func backdateDueDate(t *testing.T, db *gorm.DB, statementID int64, due time.Time) {
	t.Helper()
	err := db.Model(&model.Statement{}).
		Where("id = ?", statementID).
		Update("due_date", due).Error
	require.NoError(t, err)
}

func TestRecordPurchaseAndPayment(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	limitSvc := NewCreditLimitService(db, cfg)
	svc := NewStatementService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 3001, 1000000)
	require.NoError(t, err)

	_, err = svc.RecordPurchase(ctx, 3001, 300000, "TX1", "门店消费")
	require.NoError(t, err)
	_, err = svc.RecordPurchase(ctx, 3001, 200000, "TX2", "门店消费")
	require.NoError(t, err)
	stmt, err := svc.ApplyPayment(ctx, 3001, 100000, "TX3")
	require.NoError(t, err)

	assert.Equal(t, int64(500000), stmt.TotalDebit)
	assert.Equal(t, int64(100000), stmt.TotalCredit)
	assert.Equal(t, int64(400000), stmt.ClosingBalance)

	// 还款同步释放等额授信
	available, err := limitSvc.AvailableLimit(ctx, 3001)
	require.NoError(t, err)
	assert.Equal(t, int64(600000), available)

	// 明细符号：消费为负、还款为正
	lines, err := svc.ListLines(ctx, stmt.ID)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, int64(-300000), lines[0].Amount)
	assert.Equal(t, int64(-200000), lines[1].Amount)
	assert.Equal(t, int64(100000), lines[2].Amount)
}

func TestRecordPurchaseWithoutLimit(t *testing.T) {
	db := newTestDB(t)
	svc := NewStatementService(db, nil, newTestConfig())

	_, err := svc.RecordPurchase(context.Background(), 3002, 1000, "TX1", "")
	assert.ErrorIs(t, err, repository.ErrCreditLimitNotFound)
}

func TestRolloverCreatesNextWithInterest(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	limitSvc := NewCreditLimitService(db, cfg)
	svc := NewStatementService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 3003, 1000000)
	require.NoError(t, err)
	stmt, err := svc.RecordPurchase(ctx, 3003, 500000, "TX1", "")
	require.NoError(t, err)
	backdateStatementPeriod(t, db, stmt.ID, 1)

	rolled, err := svc.RolloverAll(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, rolled)

	// 旧账单关账：最低还款额与截止时间被冻结
	old := &model.Statement{}
	require.NoError(t, db.Where("id = ?", stmt.ID).First(old).Error)
	assert.Equal(t, model.StatementStatusPendingPayment, old.Status)
	assert.Nil(t, old.CurrentFlag)
	assert.Equal(t, int64(50000), old.MinimumPayment)
	require.NotNil(t, old.DueDate)
	require.NotNil(t, old.ClosedAt)

	// 新账单承接期末负债并计提月息
	current, err := svc.GetCurrentStatement(ctx, 3003)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), current.OpeningBalance)
	assert.Equal(t, int64(10000), current.TotalDebit)
	assert.Equal(t, int64(510000), current.ClosingBalance)

	lines, err := svc.ListLines(ctx, current.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, model.LineTypeInterest, lines[0].LineType)
	assert.Equal(t, int64(-10000), lines[0].Amount)

	// 重复结转幂等：不会再命中任何账单
	rolled, err = svc.RolloverAll(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, rolled)
}

func TestRolloverSmallDebtNoMinimumPayment(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	limitSvc := NewCreditLimitService(db, cfg)
	svc := NewStatementService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 3004, 1000000)
	require.NoError(t, err)
	stmt, err := svc.RecordPurchase(ctx, 3004, 50000, "TX1", "")
	require.NoError(t, err)
	backdateStatementPeriod(t, db, stmt.ID, 1)

	rolled, err := svc.RolloverAll(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, rolled)

	// 负债未超过阈值，免最低还款
	old := &model.Statement{}
	require.NoError(t, db.Where("id = ?", stmt.ID).First(old).Error)
	assert.Equal(t, int64(0), old.MinimumPayment)
}

func TestResolveDueNoPenaltyWhenMinimumPaid(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	limitSvc := NewCreditLimitService(db, cfg)
	svc := NewStatementService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 3005, 1000000)
	require.NoError(t, err)
	stmt, err := svc.RecordPurchase(ctx, 3005, 500000, "TX1", "")
	require.NoError(t, err)
	backdateStatementPeriod(t, db, stmt.ID, 1)
	rolled, err := svc.RolloverAll(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, rolled)

	// 宽限期内还上最低还款额（50000），还款落在新的 current 账单
	current, err := svc.ApplyPayment(ctx, 3005, 50000, "TX2")
	require.NoError(t, err)
	assert.Equal(t, int64(460000), current.ClosingBalance)

	backdateDueDate(t, db, stmt.ID, time.Now().Add(-time.Hour))
	resolved, err := svc.ResolveDueStatements(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	old := &model.Statement{}
	require.NoError(t, db.Where("id = ?", stmt.ID).First(old).Error)
	assert.Equal(t, model.StatementStatusClosedNoPenalty, old.Status)

	// 未计罚息
	current, err = svc.GetCurrentStatement(ctx, 3005)
	require.NoError(t, err)
	assert.Equal(t, int64(460000), current.ClosingBalance)
}

func TestResolveDueWithPenalty(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	limitSvc := NewCreditLimitService(db, cfg)
	svc := NewStatementService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 3006, 1000000)
	require.NoError(t, err)
	stmt, err := svc.RecordPurchase(ctx, 3006, 500000, "TX1", "")
	require.NoError(t, err)
	backdateStatementPeriod(t, db, stmt.ID, 1)
	rolled, err := svc.RolloverAll(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, rolled)

	// 截止时间刚过一小时，逾期按 1 天计
	backdateDueDate(t, db, stmt.ID, time.Now().Add(-time.Hour))
	resolved, err := svc.ResolveDueStatements(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	old := &model.Statement{}
	require.NoError(t, db.Where("id = ?", stmt.ID).First(old).Error)
	assert.Equal(t, model.StatementStatusClosedWithPenalty, old.Status)

	// 罚息 = 500000 * 0.02 * 1 天，记入当前账单
	current, err := svc.GetCurrentStatement(ctx, 3006)
	require.NoError(t, err)
	assert.Equal(t, int64(520000), current.ClosingBalance)

	lines, err := svc.ListLines(ctx, current.ID)
	require.NoError(t, err)
	found := false
	for _, line := range lines {
		if line.LineType == model.LineTypePenalty {
			found = true
			assert.Equal(t, int64(-10000), line.Amount)
		}
	}
	assert.True(t, found)

	// 已裁定账单不会被重复处理
	resolved, err = svc.ResolveDueStatements(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
}

func TestResolveDueRespectsGraceWindow(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	limitSvc := NewCreditLimitService(db, cfg)
	svc := NewStatementService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 3007, 1000000)
	require.NoError(t, err)
	stmt, err := svc.RecordPurchase(ctx, 3007, 500000, "TX1", "")
	require.NoError(t, err)
	backdateStatementPeriod(t, db, stmt.ID, 1)
	rolled, err := svc.RolloverAll(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, rolled)

	// 截止时间在未来，裁定任务不应命中
	resolved, err := svc.ResolveDueStatements(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)

	old := &model.Statement{}
	require.NoError(t, db.Where("id = ?", stmt.ID).First(old).Error)
	assert.Equal(t, model.StatementStatusPendingPayment, old.Status)
}

// 负债恰好等于阈值仍要求最低还款，仅严格低于阈值才豁免
func TestMinimumPaymentThresholdBoundary(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	limitSvc := NewCreditLimitService(db, cfg)
	svc := NewStatementService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 3010, 1000000)
	require.NoError(t, err)
	_, err = limitSvc.GrantLimit(ctx, 3011, 1000000)
	require.NoError(t, err)

	atThreshold, err := svc.RecordPurchase(ctx, 3010, 100000, "TX1", "")
	require.NoError(t, err)
	belowThreshold, err := svc.RecordPurchase(ctx, 3011, 99999, "TX2", "")
	require.NoError(t, err)
	backdateStatementPeriod(t, db, atThreshold.ID, 1)
	backdateStatementPeriod(t, db, belowThreshold.ID, 1)

	rolled, err := svc.RolloverAll(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 2, rolled)

	old := &model.Statement{}
	require.NoError(t, db.Where("id = ?", atThreshold.ID).First(old).Error)
	assert.Equal(t, int64(10000), old.MinimumPayment)
	old = &model.Statement{}
	require.NoError(t, db.Where("id = ?", belowThreshold.ID).First(old).Error)
	assert.Equal(t, int64(0), old.MinimumPayment)
}

// 两张账单同时待还时，一笔还款按最早账期分摊，不会同时满足两张账单的最低还款
func TestGracePaymentScopedPerStatement(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	limitSvc := NewCreditLimitService(db, cfg)
	svc := NewStatementService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 3012, 1000000)
	require.NoError(t, err)
	first, err := svc.RecordPurchase(ctx, 3012, 300000, "TX1", "")
	require.NoError(t, err)
	backdateStatementPeriod(t, db, first.ID, 2)
	rolled, err := svc.RolloverAll(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, rolled)

	// 结转产生的新账单再落后一个账期，第二次结转得到两张并存的待还账单
	second, err := svc.GetCurrentStatement(ctx, 3012)
	require.NoError(t, err)
	backdateStatementPeriod(t, db, second.ID, 1)
	rolled, err = svc.RolloverAll(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, rolled)

	pendings, err := svc.ListPending(ctx, 3012)
	require.NoError(t, err)
	require.Len(t, pendings, 2)

	// 还款恰好覆盖第一张的最低还款额（300000 * 10%）
	_, err = svc.ApplyPayment(ctx, 3012, 30000, "TX2")
	require.NoError(t, err)

	require.NoError(t, db.Where("id = ?", first.ID).First(first).Error)
	require.NoError(t, db.Where("id = ?", second.ID).First(second).Error)
	assert.Equal(t, int64(30000), first.PaidInGrace)
	assert.Equal(t, int64(0), second.PaidInGrace)

	backdateDueDate(t, db, first.ID, time.Now().Add(-time.Hour))
	backdateDueDate(t, db, second.ID, time.Now().Add(-time.Hour))
	resolved, err := svc.ResolveDueStatements(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)

	// 第一张达标免罚，第二张没有分到钱，计罚
	require.NoError(t, db.Where("id = ?", first.ID).First(first).Error)
	require.NoError(t, db.Where("id = ?", second.ID).First(second).Error)
	assert.Equal(t, model.StatementStatusClosedNoPenalty, first.Status)
	assert.Equal(t, model.StatementStatusClosedWithPenalty, second.Status)
}

func TestCustomPenaltyPolicyCap(t *testing.T) {
	cfg := newTestConfig()
	policy := DefaultPenaltyPolicy(cfg.Business.Credit)

	// 逾期 30 天按日计罚会超过封顶比例，取上限 debt * 0.20
	assert.Equal(t, int64(100000), policy(500000, 30))
	assert.Equal(t, int64(10000), policy(500000, 1))
	assert.Equal(t, int64(0), policy(0, 10))
	assert.Equal(t, int64(0), policy(500000, 0))
}

func TestRolloverEmitsOutboxEvents(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	limitSvc := NewCreditLimitService(db, cfg)
	svc := NewStatementService(db, nil, cfg)
	ctx := context.Background()

	_, err := limitSvc.GrantLimit(ctx, 3008, 1000000)
	require.NoError(t, err)
	stmt, err := svc.RecordPurchase(ctx, 3008, 200000, "TX1", "")
	require.NoError(t, err)
	backdateStatementPeriod(t, db, stmt.ID, 1)
	_, err = svc.RolloverAll(ctx, 100)
	require.NoError(t, err)

	var messages []*model.OutboxMessage
	require.NoError(t, db.Find(&messages).Error)
	types := map[string]int{}
	for _, msg := range messages {
		types[msg.EventType]++
		assert.Equal(t, cfg.Kafka.Topic.StatementEvents, msg.Topic)
		assert.Equal(t, model.OutboxStatusPending, msg.Status)
	}
	assert.Equal(t, 1, types[model.EventStatementClosed])
	assert.Equal(t, 1, types[model.EventStatementRollover])
}
