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

// RequestExpiryJob 请求超时清扫任务
// 兜底处理支付请求与转账请求的过期：在线路径有懒过期检查，
// 这里保证没人再触达的请求也会被收口并回滚资金
type RequestExpiryJob struct {
	paymentSvc  *service.PaymentService
	transferSvc *service.TransferService
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewRequestExpiryJob(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *RequestExpiryJob {
	return &RequestExpiryJob{
		paymentSvc:  service.NewPaymentService(db, redisClient, cfg),
		transferSvc: service.NewTransferService(db, redisClient, cfg),
		stopCh:      make(chan struct{}),
		interval:    30 * time.Second,
		batchSize:   100,
	}
}

func (j *RequestExpiryJob) Start(ctx context.Context) {
	log.Println("[RequestExpiryJob] 请求超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RequestExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[RequestExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *RequestExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *RequestExpiryJob) sweep(ctx context.Context) {
	expired, err := j.paymentSvc.ExpireRequests(ctx, j.batchSize)
	if err != nil {
		log.Printf("[RequestExpiryJob] 支付请求清扫失败: %v", err)
	} else if expired > 0 {
		log.Printf("[RequestExpiryJob] 本次过期 %d 个支付请求", expired)
	}

	expired, err = j.transferSvc.ExpireTransfers(ctx, j.batchSize)
	if err != nil {
		log.Printf("[RequestExpiryJob] 转账请求清扫失败: %v", err)
	} else if expired > 0 {
		log.Printf("[RequestExpiryJob] 本次过期 %d 个转账请求", expired)
	}
}
