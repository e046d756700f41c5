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
	"creditpay/pkg/period"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// PenaltyPolicy 逾期罚息策略
// 输入为裁定时的未结负债与逾期天数，返回罚息金额
type PenaltyPolicy func(debt int64, overdueDays int) int64

// DefaultPenaltyPolicy 按日计罚并封顶：min(debt * rate * days, debt * maxRate)
func DefaultPenaltyPolicy(cfg config.CreditConfig) PenaltyPolicy {
	return func(debt int64, overdueDays int) int64 {
		if debt <= 0 || overdueDays <= 0 {
			return 0
		}
		penalty := float64(debt) * cfg.PenaltyRate * float64(overdueDays)
		maxPenalty := float64(debt) * cfg.MaxPenaltyRate
		if penalty > maxPenalty {
			penalty = maxPenalty
		}
		return int64(penalty)
	}
}

type StatementService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	stmtRepo    *repository.StatementRepository
	limitRepo   *repository.CreditLimitRepository
	outboxRepo  *repository.OutboxRepository
	limitSvc    *CreditLimitService
	penalty     PenaltyPolicy
}

func NewStatementService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *StatementService {
	return &StatementService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		stmtRepo:    repository.NewStatementRepository(db),
		limitRepo:   repository.NewCreditLimitRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		limitSvc:    NewCreditLimitService(db, cfg),
		penalty:     DefaultPenaltyPolicy(cfg.Business.Credit),
	}
}

// SetPenaltyPolicy 替换罚息策略
func (s *StatementService) SetPenaltyPolicy(p PenaltyPolicy) {
	s.penalty = p
}

// lockUser 用户级串行化
// redisClient 为空时退化为空操作（单机测试场景，数据库条件更新仍然兜底）
func (s *StatementService) lockUser(ctx context.Context, userID int64, holder string) (func(), error) {
	if s.redisClient == nil {
		return func() {}, nil
	}
	userLock := lock.NewStatementLock(s.redisClient, userID, holder)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	return func() { userLock.Unlock(ctx) }, nil
}

// getOrCreateCurrentTx 取当前账单，没有则按当前账期创建
// 创建竞争由 (user_id, current_flag) 唯一索引裁决，输家改读赢家的账单
func (s *StatementService) getOrCreateCurrentTx(ctx context.Context, tx *gorm.DB, userID int64) (*model.Statement, error) {
	stmt, err := s.stmtRepo.GetCurrentForUpdate(ctx, tx, userID)
	if err == nil {
		return stmt, nil
	}
	if !errors.Is(err, repository.ErrStatementNotFound) {
		return nil, err
	}

	p := period.Current()
	stmt = &model.Statement{
		UserID: userID,
		Year:   p.Year,
		Month:  p.Month,
	}
	err = s.stmtRepo.CreateCurrent(ctx, tx, stmt)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateCurrent) {
			return s.stmtRepo.GetCurrentForUpdate(ctx, tx, userID)
		}
		return nil, err
	}
	return stmt, nil
}

// minimumPaymentFor 最低还款额
// 负债低于阈值免最低还款；恰好等于阈值仍按比例计
func (s *StatementService) minimumPaymentFor(debt int64) int64 {
	if debt < s.cfg.Business.Credit.MinimumPaymentThreshold {
		return 0
	}
	return int64(float64(debt) * s.cfg.Business.Credit.MinimumPaymentPercentage)
}

// emitEvent 事件随业务事务写入发件箱
func (s *StatementService) emitEvent(ctx context.Context, tx *gorm.DB, key, eventType string, payload map[string]interface{}) error {
	payloadBytes, _ := json.Marshal(payload)
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      s.cfg.Kafka.Topic.StatementEvents,
		EventType:  eventType,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	return s.outboxRepo.Create(ctx, tx, msg)
}

// RecordPurchaseTx 事务内记录信用消费
// 占用额度与账单明细同事务落库；额度不足整体回滚
func (s *StatementService) RecordPurchaseTx(ctx context.Context, tx *gorm.DB, userID, amount int64, transactionRef, description string) (*model.Statement, error) {
	if amount <= 0 {
		return nil, errors.New("消费金额必须大于0")
	}

	if err := s.limitSvc.UseCreditTx(ctx, tx, userID, amount); err != nil {
		return nil, err
	}

	stmt, err := s.getOrCreateCurrentTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	line := &model.StatementLine{
		StatementID:    stmt.ID,
		LineType:       model.LineTypePurchase,
		Amount:         amount,
		TransactionRef: transactionRef,
		Description:    description,
	}
	if err := s.stmtRepo.AddLine(ctx, tx, line); err != nil {
		return nil, err
	}
	if err := s.stmtRepo.RecomputeBalances(ctx, tx, stmt.ID); err != nil {
		return nil, err
	}

	return s.stmtRepo.GetByIDForUpdate(ctx, tx, stmt.ID)
}

// RecordPurchase 记录信用消费
func (s *StatementService) RecordPurchase(ctx context.Context, userID, amount int64, transactionRef, description string) (*model.Statement, error) {
	unlock, err := s.lockUser(ctx, userID, transactionRef)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var stmt *model.Statement
	err = withRetry(s.cfg.Business.MaxRetryCount, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var innerErr error
			stmt, innerErr = s.RecordPurchaseTx(ctx, tx, userID, amount, transactionRef, description)
			return innerErr
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("信用消费记账: userID=%d, amount=%d, statement=%s", userID, amount, stmt.ReferenceCode)
	return stmt, nil
}

// ApplyPaymentTx 事务内记录还款
// 还款恒记入当前账单（负债随结转进入当前账单的期初，待还账单只是关账快照，
// 再往快照上记账会双计）；同时释放等额授信
func (s *StatementService) ApplyPaymentTx(ctx context.Context, tx *gorm.DB, userID, amount int64, transactionRef string) (*model.Statement, error) {
	if amount <= 0 {
		return nil, errors.New("还款金额必须大于0")
	}

	target, err := s.getOrCreateCurrentTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	line := &model.StatementLine{
		StatementID:    target.ID,
		LineType:       model.LineTypePayment,
		Amount:         amount,
		TransactionRef: transactionRef,
		Description:    "账单还款",
	}
	if err := s.stmtRepo.AddLine(ctx, tx, line); err != nil {
		return nil, err
	}
	if err := s.stmtRepo.RecomputeBalances(ctx, tx, target.ID); err != nil {
		return nil, err
	}

	if err := s.limitSvc.ReleaseCreditTx(ctx, tx, userID, amount); err != nil {
		if !errors.Is(err, repository.ErrCreditLimitNotFound) {
			return nil, err
		}
	}

	// 宽限期内的还款按最早账期优先分摊到各待还账单，
	// 裁定时只认分摊到自己名下的部分，一笔钱不会同时满足两张账单
	if err := s.allocateGracePaymentTx(ctx, tx, userID, amount); err != nil {
		return nil, err
	}

	return s.stmtRepo.GetByIDForUpdate(ctx, tx, target.ID)
}

func (s *StatementService) allocateGracePaymentTx(ctx context.Context, tx *gorm.DB, userID, amount int64) error {
	pendings, err := s.stmtRepo.ListPendingInGraceForUpdate(ctx, tx, userID, time.Now())
	if err != nil {
		return err
	}
	remaining := amount
	for _, pending := range pendings {
		if remaining <= 0 {
			break
		}
		outstanding := pending.ClosingBalance - pending.PaidInGrace
		if outstanding <= 0 {
			continue
		}
		alloc := remaining
		if alloc > outstanding {
			alloc = outstanding
		}
		if err := s.stmtRepo.AddPaidInGrace(ctx, tx, pending.ID, alloc); err != nil {
			return err
		}
		remaining -= alloc
	}
	return nil
}

// ApplyPayment 记录还款
func (s *StatementService) ApplyPayment(ctx context.Context, userID, amount int64, transactionRef string) (*model.Statement, error) {
	unlock, err := s.lockUser(ctx, userID, transactionRef)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var stmt *model.Statement
	err = withRetry(s.cfg.Business.MaxRetryCount, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var innerErr error
			stmt, innerErr = s.ApplyPaymentTx(ctx, tx, userID, amount, transactionRef)
			return innerErr
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("账单还款记账: userID=%d, amount=%d, statement=%s", userID, amount, stmt.ReferenceCode)
	return stmt, nil
}

// RolloverAll 月末结转
// 关闭所有账期已落后的 current 账单，并开立新账期账单；逐用户隔离失败
// 重复调用是幂等的：已结转的账单不会再次命中
func (s *StatementService) RolloverAll(ctx context.Context, batchSize int) (int, error) {
	p := period.Current()
	statements, err := s.stmtRepo.ListCurrentBefore(ctx, p.Year, p.Month, batchSize)
	if err != nil {
		return 0, err
	}

	rolled := 0
	for _, stmt := range statements {
		if err := s.rolloverOne(ctx, stmt, p); err != nil {
			log.Printf("账单结转失败: statement=%s, userID=%d, err=%v", stmt.ReferenceCode, stmt.UserID, err)
			continue
		}
		rolled++
	}
	return rolled, nil
}

func (s *StatementService) rolloverOne(ctx context.Context, stale *model.Statement, p period.Period) error {
	unlock, err := s.lockUser(ctx, stale.UserID, stale.ReferenceCode)
	if err != nil {
		return err
	}
	defer unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		stmt, err := s.stmtRepo.GetByIDForUpdate(ctx, tx, stale.ID)
		if err != nil {
			return err
		}
		// 锁内复核：已被并发结转则跳过
		if stmt.Status != model.StatementStatusCurrent {
			return nil
		}
		stmtPeriod := period.Period{Year: stmt.Year, Month: stmt.Month}
		if !stmtPeriod.Before(p) {
			return nil
		}

		now := time.Now()
		var limit *model.CreditLimit
		if l, err := s.limitRepo.GetByUserIDForUpdate(ctx, tx, stmt.UserID); err == nil {
			limit = l
		} else if !errors.Is(err, repository.ErrCreditLimitNotFound) {
			return err
		}
		graceDays := s.limitSvc.EffectiveGraceDays(limit)
		dueDate := now.AddDate(0, 0, graceDays)
		minPayment := s.minimumPaymentFor(stmt.ClosingBalance)

		if err := s.stmtRepo.CloseToPending(ctx, tx, stmt.ID, dueDate, minPayment, now); err != nil {
			return err
		}

		next := &model.Statement{
			UserID:         stmt.UserID,
			Year:           p.Year,
			Month:          p.Month,
			OpeningBalance: stmt.ClosingBalance,
			ClosingBalance: stmt.ClosingBalance,
		}
		if err := s.stmtRepo.CreateCurrent(ctx, tx, next); err != nil {
			return err
		}

		// 结转负债计提月息
		if next.OpeningBalance > 0 {
			interest := int64(float64(next.OpeningBalance) * s.cfg.Business.Credit.MonthlyInterestRate)
			if interest > 0 {
				line := &model.StatementLine{
					StatementID: next.ID,
					LineType:    model.LineTypeInterest,
					Amount:      interest,
					Description: fmt.Sprintf("账期 %s 结转负债利息", stmtPeriod.String()),
				}
				if err := s.stmtRepo.AddLine(ctx, tx, line); err != nil {
					return err
				}
				if err := s.stmtRepo.RecomputeBalances(ctx, tx, next.ID); err != nil {
					return err
				}
			}
		}

		if err := s.emitEvent(ctx, tx, stmt.ReferenceCode, model.EventStatementClosed, map[string]interface{}{
			"statement":       stmt.ReferenceCode,
			"user_id":         stmt.UserID,
			"period":          stmtPeriod.String(),
			"closing_balance": stmt.ClosingBalance,
			"minimum_payment": minPayment,
			"due_date":        dueDate.Format(time.RFC3339),
		}); err != nil {
			return err
		}
		return s.emitEvent(ctx, tx, next.ReferenceCode, model.EventStatementRollover, map[string]interface{}{
			"statement":       next.ReferenceCode,
			"user_id":         next.UserID,
			"period":          p.String(),
			"opening_balance": next.OpeningBalance,
		})
	})
}

// ResolveDueStatements 宽限期裁定
// 最低还款额已达标 -> closed_no_penalty；否则 closed_with_penalty 并在当前账单计罚
func (s *StatementService) ResolveDueStatements(ctx context.Context, batchSize int) (int, error) {
	now := time.Now()
	statements, err := s.stmtRepo.ListPendingDue(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, stmt := range statements {
		if err := s.resolveOne(ctx, stmt, now); err != nil {
			log.Printf("账单裁定失败: statement=%s, userID=%d, err=%v", stmt.ReferenceCode, stmt.UserID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (s *StatementService) resolveOne(ctx context.Context, pending *model.Statement, now time.Time) error {
	unlock, err := s.lockUser(ctx, pending.UserID, pending.ReferenceCode)
	if err != nil {
		return err
	}
	defer unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		stmt, err := s.stmtRepo.GetByIDForUpdate(ctx, tx, pending.ID)
		if err != nil {
			return err
		}
		if stmt.Status != model.StatementStatusPendingPayment {
			return nil
		}
		if stmt.IsWithinDue(now) {
			return nil
		}

		paid := stmt.PaidInGrace

		if stmt.MinimumPayment == 0 || paid >= stmt.MinimumPayment {
			if err := s.stmtRepo.Finalize(ctx, tx, stmt.ID, model.StatementStatusClosedNoPenalty, now); err != nil {
				return err
			}
			return s.emitEvent(ctx, tx, stmt.ReferenceCode, model.EventStatementClosed, map[string]interface{}{
				"statement": stmt.ReferenceCode,
				"user_id":   stmt.UserID,
				"status":    model.StatementStatusClosedNoPenalty,
				"paid":      paid,
			})
		}

		if err := s.stmtRepo.Finalize(ctx, tx, stmt.ID, model.StatementStatusClosedWithPenalty, now); err != nil {
			return err
		}

		overdueDays := int(now.Sub(*stmt.DueDate).Hours()/24) + 1
		// 罚息基数为关账负债扣除宽限期内已还部分
		debt := stmt.ClosingBalance - paid
		penalty := s.penalty(debt, overdueDays)
		if penalty > 0 {
			current, err := s.getOrCreateCurrentTx(ctx, tx, stmt.UserID)
			if err != nil {
				return err
			}
			line := &model.StatementLine{
				StatementID: current.ID,
				LineType:    model.LineTypePenalty,
				Amount:      penalty,
				Description: fmt.Sprintf("账单 %s 逾期罚息", stmt.ReferenceCode),
			}
			if err := s.stmtRepo.AddLine(ctx, tx, line); err != nil {
				return err
			}
			if err := s.stmtRepo.RecomputeBalances(ctx, tx, current.ID); err != nil {
				return err
			}
			if err := s.emitEvent(ctx, tx, stmt.ReferenceCode, model.EventPenaltyApplied, map[string]interface{}{
				"statement": stmt.ReferenceCode,
				"user_id":   stmt.UserID,
				"penalty":   penalty,
			}); err != nil {
				return err
			}
		}

		return s.emitEvent(ctx, tx, stmt.ReferenceCode, model.EventStatementClosed, map[string]interface{}{
			"statement": stmt.ReferenceCode,
			"user_id":   stmt.UserID,
			"status":    model.StatementStatusClosedWithPenalty,
			"paid":      paid,
		})
	})
}

func (s *StatementService) GetCurrentStatement(ctx context.Context, userID int64) (*model.Statement, error) {
	return s.stmtRepo.GetCurrent(ctx, userID)
}

func (s *StatementService) GetStatement(ctx context.Context, userID int64, year, month int) (*model.Statement, error) {
	return s.stmtRepo.GetByUserPeriod(ctx, userID, year, month)
}

func (s *StatementService) ListLines(ctx context.Context, statementID int64) ([]*model.StatementLine, error) {
	return s.stmtRepo.ListLines(ctx, statementID)
}

func (s *StatementService) ListPending(ctx context.Context, userID int64) ([]*model.Statement, error) {
	return s.stmtRepo.ListPendingByUser(ctx, userID)
}
