package job

import (
	"context"
	"log"
	"time"

	"creditpay/internal/config"
	"creditpay/internal/service"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// MonthEndJob 月末结转任务
// 周期性扫描账期已落后的 current 账单并结转；结转本身幂等，
// 扫描间隔只影响新账期开始后的生效延迟
type MonthEndJob struct {
	stmtSvc   *service.StatementService
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewMonthEndJob(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *MonthEndJob {
	return &MonthEndJob{
		stmtSvc:   service.NewStatementService(db, redisClient, cfg),
		stopCh:    make(chan struct{}),
		interval:  10 * time.Minute,
		batchSize: 200,
	}
}

func (j *MonthEndJob) Start(ctx context.Context) {
	log.Println("[MonthEndJob] 月末结转任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[MonthEndJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[MonthEndJob] 任务停止")
			return
		case <-ticker.C:
			j.rollover(ctx)
		}
	}
}

func (j *MonthEndJob) Stop() {
	close(j.stopCh)
}

func (j *MonthEndJob) rollover(ctx context.Context) {
	rolled, err := j.stmtSvc.RolloverAll(ctx, j.batchSize)
	if err != nil {
		log.Printf("[MonthEndJob] 结转扫描失败: %v", err)
		return
	}
	if rolled > 0 {
		log.Printf("[MonthEndJob] 本次结转 %d 张账单", rolled)
	}
}
