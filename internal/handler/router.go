package handler

import (
	"creditpay/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(AccessLogMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 授信相关
		credit := api.Group("/credit")
		{
			credit.POST("/grant", h.GrantLimit)
			credit.GET("/limit", h.GetLimit)
			credit.POST("/purchase", h.Purchase)
			credit.POST("/repay", h.Repay)
		}

		// 账单相关
		statement := api.Group("/statement")
		{
			statement.GET("/current", h.GetCurrentStatement)
			statement.GET("/detail", h.GetStatement)
			statement.GET("/lines", h.ListStatementLines)
			statement.GET("/pending", h.ListPendingStatements)
		}

		// 钱包相关
		wallet := api.Group("/wallet")
		{
			wallet.POST("/create", h.CreateWallet)
			wallet.GET("/info", h.GetWallet)
			wallet.POST("/deposit", h.Deposit)
			wallet.GET("/transactions", h.ListTransactions)
		}

		// 担保支付相关
		payment := api.Group("/payment")
		{
			payment.POST("/create", h.CreatePayment)
			payment.POST("/confirm", h.ConfirmPayment)
			payment.POST("/verify", h.VerifyPayment)
			payment.POST("/cancel", h.CancelPayment)
			payment.GET("/detail", h.GetPayment)
			payment.GET("/list", h.ListMerchantPayments)
		}

		// 转账相关
		transfer := api.Group("/transfer")
		{
			transfer.POST("/create", h.CreateTransfer)
			transfer.POST("/accept", h.AcceptTransfer)
			transfer.POST("/cancel", h.CancelTransfer)
			transfer.GET("/detail", h.GetTransfer)
		}

		// 分期相关
		installment := api.Group("/installment")
		{
			installment.POST("/create", h.CreateInstallmentPlan)
			installment.GET("/detail", h.GetInstallmentPlan)
			installment.POST("/pay", h.PayInstallment)
		}

		// 管理接口
		admin := api.Group("/admin")
		{
			admin.POST("/rollover", h.TriggerRollover)
			admin.POST("/resolve-due", h.TriggerResolveDue)
			admin.POST("/expire-requests", h.TriggerExpireRequests)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
