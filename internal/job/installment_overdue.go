package job

import (
	"context"
	"log"
	"time"

	"creditpay/internal/config"
	"creditpay/internal/service"

	"gorm.io/gorm"
)

// InstallmentOverdueJob 分期逾期标记任务
// 罚息按还款时点现算，这里只负责把过期未付的单期推进到 overdue
type InstallmentOverdueJob struct {
	installmentSvc *service.InstallmentService
	stopCh         chan struct{}
	interval       time.Duration
}

func NewInstallmentOverdueJob(db *gorm.DB, cfg *config.Config) *InstallmentOverdueJob {
	return &InstallmentOverdueJob{
		installmentSvc: service.NewInstallmentService(db, cfg),
		stopCh:         make(chan struct{}),
		interval:       time.Hour,
	}
}

func (j *InstallmentOverdueJob) Start(ctx context.Context) {
	log.Println("[InstallmentOverdueJob] 分期逾期任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[InstallmentOverdueJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[InstallmentOverdueJob] 任务停止")
			return
		case <-ticker.C:
			j.markOverdue(ctx)
		}
	}
}

func (j *InstallmentOverdueJob) Stop() {
	close(j.stopCh)
}

func (j *InstallmentOverdueJob) markOverdue(ctx context.Context) {
	marked, err := j.installmentSvc.MarkOverdue(ctx)
	if err != nil {
		log.Printf("[InstallmentOverdueJob] 逾期标记失败: %v", err)
		return
	}
	if marked > 0 {
		log.Printf("[InstallmentOverdueJob] 本次标记 %d 期逾期", marked)
	}
}
