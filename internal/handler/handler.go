package handler

import (
	"errors"
	"strconv"

	"creditpay/internal/config"
	"creditpay/internal/repository"
	"creditpay/internal/service"
	"creditpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	limitService       *service.CreditLimitService
	statementService   *service.StatementService
	walletService      *service.WalletService
	paymentService     *service.PaymentService
	transferService    *service.TransferService
	installmentService *service.InstallmentService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		limitService:       service.NewCreditLimitService(db, cfg),
		statementService:   service.NewStatementService(db, rdb, cfg),
		walletService:      service.NewWalletService(db, cfg),
		paymentService:     service.NewPaymentService(db, rdb, cfg),
		transferService:    service.NewTransferService(db, rdb, cfg),
		installmentService: service.NewInstallmentService(db, cfg),
	}
}

// handleError 业务错误到响应码的统一映射
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrInsufficientCredit):
		response.BusinessError(c, response.CodeInsufficientCredit, err.Error())
	case errors.Is(err, repository.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, repository.ErrOptimisticLock):
		response.BusinessError(c, response.CodeConcurrencyConflict, err.Error())
	case errors.Is(err, repository.ErrDuplicateReference):
		response.BusinessError(c, response.CodeDuplicateReference, err.Error())
	case errors.Is(err, repository.ErrPaymentRequestNotFound),
		errors.Is(err, repository.ErrTransferRequestNotFound):
		response.BusinessError(c, response.CodeRequestNotFound, err.Error())
	case errors.Is(err, service.ErrRequestExpired),
		errors.Is(err, service.ErrTransferExpired):
		response.BusinessError(c, response.CodeRequestExpired, err.Error())
	case errors.Is(err, service.ErrRequestStateConflict),
		errors.Is(err, service.ErrTransferStateConflict),
		errors.Is(err, service.ErrMerchantMismatch),
		errors.Is(err, repository.ErrPaymentRequestStatusInvalid),
		errors.Is(err, repository.ErrTransferRequestStatusInvalid),
		errors.Is(err, repository.ErrStatementStateInvalid),
		errors.Is(err, repository.ErrInstallmentStatusInvalid):
		response.BusinessError(c, response.CodeInvalidState, err.Error())
	case errors.Is(err, repository.ErrStatementNotFound):
		response.BusinessError(c, response.CodeStatementNotFound, err.Error())
	case errors.Is(err, repository.ErrWalletNotFound):
		response.BusinessError(c, response.CodeWalletNotFound, err.Error())
	case errors.Is(err, repository.ErrCreditLimitNotFound),
		errors.Is(err, repository.ErrInstallmentNotFound):
		response.Error(c, response.CodeNotFound, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return 0, false
	}
	return userID, true
}

// ============================================================
// 授信相关接口
// ============================================================

// GrantLimitRequest 授信请求
type GrantLimitRequest struct {
	UserID        int64 `json:"user_id" binding:"required"`
	ApprovedLimit int64 `json:"approved_limit" binding:"required,gt=0"`
}

// GrantLimit 授信
// POST /api/v1/credit/grant
func (h *Handler) GrantLimit(c *gin.Context) {
	var req GrantLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	limit, err := h.limitService.GrantLimit(c.Request.Context(), req.UserID, req.ApprovedLimit)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, limit)
}

// GetLimit 查询授信额度
// GET /api/v1/credit/limit?user_id=xxx
func (h *Handler) GetLimit(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	limit, err := h.limitService.GetLimit(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":         limit.UserID,
		"approved_limit":  limit.ApprovedLimit,
		"used_limit":      limit.UsedLimit,
		"available_limit": limit.AvailableLimit(),
		"status":          limit.Status,
		"expires_at":      limit.ExpiresAt,
	})
}

// PurchaseRequest 信用消费请求
type PurchaseRequest struct {
	UserID         int64  `json:"user_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	TransactionRef string `json:"transaction_ref"`
	Description    string `json:"description"`
}

// Purchase 信用消费记账
// POST /api/v1/credit/purchase
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	stmt, err := h.statementService.RecordPurchase(c.Request.Context(), req.UserID, req.Amount, req.TransactionRef, req.Description)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, stmt)
}

// RepayRequest 还款请求
type RepayRequest struct {
	UserID         int64  `json:"user_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	TransactionRef string `json:"transaction_ref"`
}

// Repay 账单还款记账
// POST /api/v1/credit/repay
func (h *Handler) Repay(c *gin.Context) {
	var req RepayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	stmt, err := h.statementService.ApplyPayment(c.Request.Context(), req.UserID, req.Amount, req.TransactionRef)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, stmt)
}

// ============================================================
// 账单相关接口
// ============================================================

// GetCurrentStatement 查询当前账单
// GET /api/v1/statement/current?user_id=xxx
func (h *Handler) GetCurrentStatement(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	stmt, err := h.statementService.GetCurrentStatement(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, stmt)
}

// GetStatement 按账期查询账单
// GET /api/v1/statement/detail?user_id=xxx&year=1404&month=5
func (h *Handler) GetStatement(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		response.ParamError(c, "year 参数错误")
		return
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		response.ParamError(c, "month 参数错误")
		return
	}

	stmt, err := h.statementService.GetStatement(c.Request.Context(), userID, year, month)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, stmt)
}

// ListStatementLines 查询账单明细
// GET /api/v1/statement/lines?statement_id=xxx
func (h *Handler) ListStatementLines(c *gin.Context) {
	statementID, err := strconv.ParseInt(c.Query("statement_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "statement_id 参数错误")
		return
	}

	lines, err := h.statementService.ListLines(c.Request.Context(), statementID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{"list": lines, "total": len(lines)})
}

// ListPendingStatements 查询待还账单
// GET /api/v1/statement/pending?user_id=xxx
func (h *Handler) ListPendingStatements(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	statements, err := h.statementService.ListPending(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{"list": statements, "total": len(statements)})
}

// ============================================================
// 钱包相关接口
// ============================================================

// CreateWalletRequest 开通钱包请求
type CreateWalletRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
}

// CreateWallet 开通钱包（幂等）
// POST /api/v1/wallet/create
func (h *Handler) CreateWallet(c *gin.Context) {
	var req CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	wallet, err := h.walletService.GetOrCreateWallet(c.Request.Context(), req.UserID, req.Kind)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, wallet)
}

// GetWallet 查询钱包
// GET /api/v1/wallet/info?user_id=xxx&kind=personal
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	kind := c.DefaultQuery("kind", "personal")

	wallet, err := h.walletService.GetWallet(c.Request.Context(), userID, kind)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"wallet_number": wallet.WalletNumber,
		"kind":          wallet.Kind,
		"balance":       wallet.Balance,
		"reserved":      wallet.Reserved,
		"available":     wallet.AvailableBalance(),
	})
}

// DepositRequest 充值请求
type DepositRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Kind   string `json:"kind"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

// Deposit 充值接口（简化版，实际应该走支付渠道）
// POST /api/v1/wallet/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = "personal"
	}

	trans, err := h.walletService.Deposit(c.Request.Context(), req.UserID, req.Kind, req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transaction": trans.ReferenceCode,
		"amount":      trans.Amount,
	})
}

// ListTransactions 查询钱包流水
// GET /api/v1/wallet/transactions?wallet_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	walletID, err := strconv.ParseInt(c.Query("wallet_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "wallet_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.walletService.ListTransactions(c.Request.Context(), walletID, page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 担保支付相关接口
// ============================================================

// CreatePaymentRequest 商户发起收款
type CreatePaymentRequest struct {
	MerchantID  int64  `json:"merchant_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description"`
}

// CreatePayment 发起收款请求
// POST /api/v1/payment/create
func (h *Handler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	paymentReq, err := h.paymentService.CreateRequest(c.Request.Context(), req.MerchantID, req.Amount, req.Description)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, paymentReq)
}

// ConfirmPaymentRequest 客户确认支付
type ConfirmPaymentRequest struct {
	Reference  string `json:"reference" binding:"required"`
	CustomerID int64  `json:"customer_id" binding:"required"`
	UseCredit  bool   `json:"use_credit"`
}

// ConfirmPayment 客户确认支付（资金进担保户）
// POST /api/v1/payment/confirm
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	paymentReq, err := h.paymentService.Confirm(c.Request.Context(), req.Reference, req.CustomerID, req.UseCredit)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, paymentReq)
}

// VerifyPaymentRequest 商户核验
type VerifyPaymentRequest struct {
	Reference  string `json:"reference" binding:"required"`
	MerchantID int64  `json:"merchant_id" binding:"required"`
}

// VerifyPayment 商户核验（担保户结算给商户）
// POST /api/v1/payment/verify
func (h *Handler) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	paymentReq, err := h.paymentService.Verify(c.Request.Context(), req.Reference, req.MerchantID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, paymentReq)
}

// CancelPayment 取消支付请求
// POST /api/v1/payment/cancel
func (h *Handler) CancelPayment(c *gin.Context) {
	var req struct {
		Reference string `json:"reference" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	paymentReq, err := h.paymentService.Cancel(c.Request.Context(), req.Reference)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, paymentReq)
}

// GetPayment 查询支付请求
// GET /api/v1/payment/detail?reference=xxx
func (h *Handler) GetPayment(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		response.ParamError(c, "reference 参数不能为空")
		return
	}

	paymentReq, err := h.paymentService.GetRequest(c.Request.Context(), reference)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, paymentReq)
}

// ListMerchantPayments 查询商户收款列表
// GET /api/v1/payment/list?merchant_id=xxx&page=1&page_size=10
func (h *Handler) ListMerchantPayments(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Query("merchant_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "merchant_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	requests, total, err := h.paymentService.ListMerchantRequests(c.Request.Context(), merchantID, page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      requests,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 转账相关接口
// ============================================================

// CreateTransferRequest 发起转账
type CreateTransferRequest struct {
	SenderUserID         int64  `json:"sender_user_id" binding:"required"`
	ReceiverWalletNumber string `json:"receiver_wallet_number" binding:"required"`
	Amount               int64  `json:"amount" binding:"required,gt=0"`
	Description          string `json:"description"`
}

// CreateTransfer 发起转账（预留资金）
// POST /api/v1/transfer/create
func (h *Handler) CreateTransfer(c *gin.Context) {
	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	transferReq, err := h.transferService.CreateTransfer(c.Request.Context(),
		req.SenderUserID, req.ReceiverWalletNumber, req.Amount, req.Description)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, transferReq)
}

// AcceptTransfer 接受转账
// POST /api/v1/transfer/accept
func (h *Handler) AcceptTransfer(c *gin.Context) {
	var req struct {
		Reference string `json:"reference" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	transferReq, err := h.transferService.Accept(c.Request.Context(), req.Reference)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, transferReq)
}

// CancelTransfer 取消转账
// POST /api/v1/transfer/cancel
func (h *Handler) CancelTransfer(c *gin.Context) {
	var req struct {
		Reference string `json:"reference" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	transferReq, err := h.transferService.Cancel(c.Request.Context(), req.Reference)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, transferReq)
}

// GetTransfer 查询转账请求
// GET /api/v1/transfer/detail?reference=xxx
func (h *Handler) GetTransfer(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		response.ParamError(c, "reference 参数不能为空")
		return
	}

	transferReq, err := h.transferService.GetTransfer(c.Request.Context(), reference)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, transferReq)
}

// ============================================================
// 分期相关接口
// ============================================================

// CreateInstallmentPlanRequest 创建分期计划
type CreateInstallmentPlanRequest struct {
	UserID     int64   `json:"user_id" binding:"required"`
	SourceType string  `json:"source_type" binding:"required"`
	SourceRef  string  `json:"source_ref" binding:"required"`
	Principal  int64   `json:"principal" binding:"required,gt=0"`
	Months     int     `json:"months" binding:"required,gt=0"`
	AnnualRate float64 `json:"annual_rate"`
}

// CreateInstallmentPlan 创建分期计划
// POST /api/v1/installment/create
func (h *Handler) CreateInstallmentPlan(c *gin.Context) {
	var req CreateInstallmentPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	plan, err := h.installmentService.CreatePlan(c.Request.Context(),
		req.UserID, req.SourceType, req.SourceRef, req.Principal, req.Months, req.AnnualRate)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, plan)
}

// GetInstallmentPlan 查询分期计划与各期
// GET /api/v1/installment/detail?plan_id=xxx
func (h *Handler) GetInstallmentPlan(c *gin.Context) {
	planID, err := strconv.ParseInt(c.Query("plan_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "plan_id 参数错误")
		return
	}

	plan, installments, err := h.installmentService.GetPlan(c.Request.Context(), planID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"plan":         plan,
		"installments": installments,
	})
}

// PayInstallmentRequest 分期还款
type PayInstallmentRequest struct {
	UserID        int64 `json:"user_id" binding:"required"`
	InstallmentID int64 `json:"installment_id" binding:"required"`
}

// PayInstallment 结清单期
// POST /api/v1/installment/pay
func (h *Handler) PayInstallment(c *gin.Context) {
	var req PayInstallmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	inst, err := h.installmentService.Pay(c.Request.Context(), req.UserID, req.InstallmentID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, inst)
}

// ============================================================
// 管理接口（批处理手动触发）
// ============================================================

// TriggerRollover 手动触发月末结转
// POST /api/v1/admin/rollover
func (h *Handler) TriggerRollover(c *gin.Context) {
	rolled, err := h.statementService.RolloverAll(c.Request.Context(), 1000)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"rolled": rolled})
}

// TriggerResolveDue 手动触发宽限期裁定
// POST /api/v1/admin/resolve-due
func (h *Handler) TriggerResolveDue(c *gin.Context) {
	resolved, err := h.statementService.ResolveDueStatements(c.Request.Context(), 1000)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"resolved": resolved})
}

// TriggerExpireRequests 手动触发请求超时清扫
// POST /api/v1/admin/expire-requests
func (h *Handler) TriggerExpireRequests(c *gin.Context) {
	payments, err := h.paymentService.ExpireRequests(c.Request.Context(), 1000)
	if err != nil {
		handleError(c, err)
		return
	}
	transfers, err := h.transferService.ExpireTransfers(c.Request.Context(), 1000)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"payments": payments, "transfers": transfers})
}
