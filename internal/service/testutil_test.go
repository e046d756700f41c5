package service

import (
	"context"
	"fmt"
	"testing"

	"creditpay/internal/config"
	"creditpay/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 每个测试独立的内存库
// 单连接串行化写入，配合仓储层的条件更新模拟并发语义
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.CreditLimit{},
		&model.Statement{},
		&model.StatementLine{},
		&model.Wallet{},
		&model.Transaction{},
		&model.PaymentRequest{},
		&model.WalletTransferRequest{},
		&model.InstallmentPlan{},
		&model.Installment{},
		&model.OutboxMessage{},
	))

	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				StatementEvents: "test.statement.events",
				PaymentEvents:   "test.payment.events",
			},
		},
		Business: config.DefaultBusinessConfig(),
	}
}

// setupSystemWallets 初始化系统钱包并给资金户注入期初资金
func setupSystemWallets(t *testing.T, db *gorm.DB, cfg *config.Config, gatewayBalance int64) *WalletService {
	t.Helper()

	svc := NewWalletService(db, cfg)
	require.NoError(t, svc.EnsureSystemWallets(context.Background()))

	if gatewayBalance > 0 {
		err := db.Model(&model.Wallet{}).
			Where("user_id = ? AND kind = ?", model.SystemUserID, model.WalletKindGateway).
			Update("balance", gatewayBalance).Error
		require.NoError(t, err)
	}
	return svc
}
