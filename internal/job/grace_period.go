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

// GracePeriodJob 宽限期裁定任务
// 扫描宽限期已过的待还账单，按最低还款达标情况裁定终态并计罚
type GracePeriodJob struct {
	stmtSvc   *service.StatementService
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewGracePeriodJob(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *GracePeriodJob {
	return &GracePeriodJob{
		stmtSvc:   service.NewStatementService(db, redisClient, cfg),
		stopCh:    make(chan struct{}),
		interval:  10 * time.Minute,
		batchSize: 200,
	}
}

func (j *GracePeriodJob) Start(ctx context.Context) {
	log.Println("[GracePeriodJob] 宽限期裁定任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[GracePeriodJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[GracePeriodJob] 任务停止")
			return
		case <-ticker.C:
			j.resolve(ctx)
		}
	}
}

func (j *GracePeriodJob) Stop() {
	close(j.stopCh)
}

func (j *GracePeriodJob) resolve(ctx context.Context) {
	resolved, err := j.stmtSvc.ResolveDueStatements(ctx, j.batchSize)
	if err != nil {
		log.Printf("[GracePeriodJob] 裁定扫描失败: %v", err)
		return
	}
	if resolved > 0 {
		log.Printf("[GracePeriodJob] 本次裁定 %d 张账单", resolved)
	}
}
