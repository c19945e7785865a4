package handlers

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saini-30/chargemint/libs/auth"
	"github.com/saini-30/chargemint/libs/httpmiddleware"
	"github.com/saini-30/chargemint/services/wallet/internal/accrual"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/payment"
	"github.com/saini-30/chargemint/services/wallet/internal/referral"
	"github.com/saini-30/chargemint/services/wallet/internal/service"
	"github.com/saini-30/chargemint/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

type WalletService interface {
	Register(ctx context.Context, req service.Registration) (*ledger.Account, error)
	CreateDepositIntent(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (storage.Deposit, error)
	ConfirmDeposit(ctx context.Context, c payment.Confirmation) (service.DepositResult, error)
	Activate(ctx context.Context, accountID uuid.UUID) (*ledger.Account, error)
	SetActive(ctx context.Context, accountID uuid.UUID, active bool) (*ledger.Account, error)
	RequestWithdrawal(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (ledger.Withdrawal, error)
	ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID, status ledger.WithdrawalStatus, notes string) (ledger.Withdrawal, error)
	Dashboard(ctx context.Context, accountID uuid.UUID) (service.Dashboard, error)
	Transactions(ctx context.Context, accountID uuid.UUID, limit int) ([]ledger.Transaction, error)
	AdminStats(ctx context.Context) (storage.PlatformStats, error)
	PendingWithdrawals(ctx context.Context, limit int) ([]storage.PendingWithdrawal, error)
	SearchAccounts(ctx context.Context, query string, limit int) ([]*ledger.Account, error)
	RunAccrual(ctx context.Context, force bool) (accrual.SweepResult, error)
}

type Handler struct {
	Service WalletService
	Logger  *slog.Logger
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type registerRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	ReferralCode string `json:"referral_code"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type verifyPaymentRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
	Amount    string `json:"amount"`
}

type processWithdrawalRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type accountStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

type accrualRunRequest struct {
	Force bool `json:"force"`
}

type walletItem struct {
	Balance            string `json:"balance"`
	ROIEarnings        string `json:"roi_earnings"`
	CommissionEarnings string `json:"commission_earnings"`
	TotalTopUp         string `json:"total_top_up"`
	PendingTopUp       string `json:"pending_top_up"`
}

type roiItem struct {
	DailyRate     string  `json:"daily_rate"`
	MaxReturn     string  `json:"max_return"`
	IsActive      bool    `json:"is_active"`
	LastActivated *string `json:"last_activated,omitempty"`
	TotalReturned string  `json:"total_returned"`
}

type accountItem struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	ReferralCode string     `json:"referral_code"`
	ReferredBy   string     `json:"referred_by,omitempty"`
	Wallet       walletItem `json:"wallet"`
	ROI          roiItem    `json:"roi"`
	CreatedAt    string     `json:"created_at"`
}

type transactionItem struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type withdrawalItem struct {
	ID           string  `json:"id"`
	AccountID    string  `json:"account_id"`
	Amount       string  `json:"amount"`
	Status       string  `json:"status"`
	RequestedAt  string  `json:"requested_at"`
	ProcessedAt  *string `json:"processed_at,omitempty"`
	Notes        string  `json:"notes,omitempty"`
	AccountName  string  `json:"account_name,omitempty"`
	AccountEmail string  `json:"account_email,omitempty"`
	ReferralCode string  `json:"referral_code,omitempty"`
}

type dashboardStats struct {
	TotalEarnings string `json:"total_earnings"`
	DailyRate     string `json:"daily_rate"`
	ReferralCount int    `json:"referral_count"`
	CanWithdraw   bool   `json:"can_withdraw"`
}

type dashboardResponse struct {
	Account      accountItem    `json:"account"`
	ReferralTree *referral.Node `json:"referral_tree"`
	Stats        dashboardStats `json:"stats"`
}

type depositIntentResponse struct {
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type verifyPaymentResponse struct {
	Account           accountItem `json:"account"`
	Replayed          bool        `json:"replayed"`
	CommissionPayouts int         `json:"commission_payouts"`
}

type platformStatsResponse struct {
	TotalUsers         int64  `json:"total_users"`
	ActiveUsers        int64  `json:"active_users"`
	TotalTopUps        string `json:"total_top_ups"`
	TotalROIPaid       string `json:"total_roi_paid"`
	PendingWithdrawals int64  `json:"pending_withdrawals"`
}

type accrualRunResponse struct {
	RunDate   string `json:"run_date"`
	Paid      int    `json:"paid"`
	Capped    int    `json:"capped"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	TotalPaid string `json:"total_paid"`
}

func New(svc WalletService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/", auth.Middleware(jwtSecret))
	group.POST("/accounts", h.CreateAccount)
	group.GET("/wallet/dashboard", h.GetDashboard)
	group.GET("/wallet/transactions", h.ListTransactions)
	group.POST("/wallet/activate", h.Activate)
	group.POST("/wallet/withdrawals", h.RequestWithdrawal)
	group.POST("/payments/orders", h.CreateDepositIntent)
	group.POST("/payments/verify", h.VerifyPayment)

	admin := group.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/stats", h.AdminStats)
	admin.GET("/withdrawals", h.ListPendingWithdrawals)
	admin.PATCH("/withdrawals/:id", h.ProcessWithdrawal)
	admin.PATCH("/accounts/:id/status", h.SetAccountStatus)
	admin.GET("/accounts", h.SearchAccounts)
	admin.POST("/accrual/run", h.RunAccrual)
}

func (h *Handler) CreateAccount(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}

	acct, err := h.Service.Register(c.Request.Context(), service.Registration{
		AccountID:    accountID,
		Name:         req.Name,
		Email:        req.Email,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		h.writeServiceError(c, err, "register failed")
		return
	}
	c.JSON(http.StatusCreated, toAccountItem(acct))
}

func (h *Handler) GetDashboard(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	dash, err := h.Service.Dashboard(c.Request.Context(), accountID)
	if err != nil {
		h.writeServiceError(c, err, "dashboard failed")
		return
	}
	c.JSON(http.StatusOK, dashboardResponse{
		Account:      toAccountItem(dash.Account),
		ReferralTree: dash.Tree,
		Stats: dashboardStats{
			TotalEarnings: dash.Stats.TotalEarnings.String(),
			DailyRate:     dash.Stats.DailyRate.String(),
			ReferralCount: dash.Stats.ReferralCount,
			CanWithdraw:   dash.Stats.CanWithdraw,
		},
	})
}

func (h *Handler) ListTransactions(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
		return
	}
	txs, err := h.Service.Transactions(c.Request.Context(), accountID, limit)
	if err != nil {
		h.writeServiceError(c, err, "list transactions failed")
		return
	}
	items := make([]transactionItem, 0, len(txs))
	for _, tx := range txs {
		items = append(items, transactionItem{
			ID:          tx.ID.String(),
			Type:        string(tx.Kind),
			Amount:      tx.Amount.String(),
			Description: tx.Description,
			Status:      string(tx.Status),
			CreatedAt:   formatTime(tx.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

func (h *Handler) Activate(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	acct, err := h.Service.Activate(c.Request.Context(), accountID)
	if err != nil {
		h.writeServiceError(c, err, "activate failed")
		return
	}
	c.JSON(http.StatusOK, toAccountItem(acct))
}

func (h *Handler) RequestWithdrawal(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	amount, ok := bindAmount(c)
	if !ok {
		return
	}
	w, err := h.Service.RequestWithdrawal(c.Request.Context(), accountID, amount)
	if err != nil {
		h.writeServiceError(c, err, "withdrawal request failed")
		return
	}
	c.JSON(http.StatusCreated, toWithdrawalItem(w))
}

func (h *Handler) CreateDepositIntent(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	amount, ok := bindAmount(c)
	if !ok {
		return
	}
	dep, err := h.Service.CreateDepositIntent(c.Request.Context(), accountID, amount)
	if err != nil {
		h.writeServiceError(c, err, "create deposit intent failed")
		return
	}
	c.JSON(http.StatusCreated, depositIntentResponse{
		OrderID:   dep.OrderID,
		Amount:    dep.Amount.String(),
		Status:    string(dep.Status),
		CreatedAt: formatTime(dep.CreatedAt),
	})
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid amount")
		return
	}

	res, err := h.Service.ConfirmDeposit(c.Request.Context(), payment.Confirmation{
		AccountID: accountID,
		Amount:    amount,
		OrderID:   strings.TrimSpace(req.OrderID),
		PaymentID: strings.TrimSpace(req.PaymentID),
		Signature: strings.TrimSpace(req.Signature),
	})
	if err != nil {
		h.writeServiceError(c, err, "verify payment failed")
		return
	}
	c.JSON(http.StatusOK, verifyPaymentResponse{
		Account:           toAccountItem(res.Account),
		Replayed:          res.Replayed,
		CommissionPayouts: len(res.Commission.Payouts),
	})
}

func (h *Handler) AdminStats(c *gin.Context) {
	stats, err := h.Service.AdminStats(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err, "stats failed")
		return
	}
	c.JSON(http.StatusOK, platformStatsResponse{
		TotalUsers:         stats.TotalUsers,
		ActiveUsers:        stats.ActiveUsers,
		TotalTopUps:        stats.TotalTopUps.String(),
		TotalROIPaid:       stats.TotalROIPaid.String(),
		PendingWithdrawals: stats.PendingWithdrawals,
	})
}

func (h *Handler) ListPendingWithdrawals(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
		return
	}
	pending, err := h.Service.PendingWithdrawals(c.Request.Context(), limit)
	if err != nil {
		h.writeServiceError(c, err, "list withdrawals failed")
		return
	}
	items := make([]withdrawalItem, 0, len(pending))
	for _, p := range pending {
		item := toWithdrawalItem(p.Withdrawal)
		item.AccountName = p.AccountName
		item.AccountEmail = p.AccountEmail
		item.ReferralCode = p.ReferralCode
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": items})
}

func (h *Handler) ProcessWithdrawal(c *gin.Context) {
	withdrawalID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid withdrawal id")
		return
	}
	var req processWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	status := ledger.WithdrawalStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	w, err := h.Service.ProcessWithdrawal(c.Request.Context(), withdrawalID, status, strings.TrimSpace(req.Notes))
	if err != nil {
		h.writeServiceError(c, err, "process withdrawal failed")
		return
	}
	c.JSON(http.StatusOK, toWithdrawalItem(w))
}

func (h *Handler) SetAccountStatus(c *gin.Context) {
	accountID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid account id")
		return
	}
	var req accountStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "is_active is required")
		return
	}
	acct, err := h.Service.SetActive(c.Request.Context(), accountID, *req.IsActive)
	if err != nil {
		h.writeServiceError(c, err, "set account status failed")
		return
	}
	c.JSON(http.StatusOK, toAccountItem(acct))
}

func (h *Handler) SearchAccounts(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
		return
	}
	accts, err := h.Service.SearchAccounts(c.Request.Context(), c.Query("search"), limit)
	if err != nil {
		h.writeServiceError(c, err, "search accounts failed")
		return
	}
	items := make([]accountItem, 0, len(accts))
	for _, a := range accts {
		items = append(items, toAccountItem(a))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": items})
}

func (h *Handler) RunAccrual(c *gin.Context) {
	var req accrualRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
			return
		}
	}
	res, err := h.Service.RunAccrual(c.Request.Context(), req.Force)
	if err != nil {
		h.writeServiceError(c, err, "accrual run failed")
		return
	}
	c.JSON(http.StatusOK, accrualRunResponse{
		RunDate:   res.RunDate,
		Paid:      res.Paid,
		Capped:    res.Capped,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		TotalPaid: res.TotalPaid.String(),
	})
}

func (h *Handler) writeServiceError(c *gin.Context, err error, logMessage string) {
	var rl *service.RateLimitError
	switch {
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, payment.ErrInvalidConfirmation):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_FUNDS", "insufficient funds")
	case errors.Is(err, ledger.ErrROINotComplete):
		writeError(c, http.StatusBadRequest, "ROI_NOT_COMPLETE", "roi cycle not complete")
	case errors.Is(err, payment.ErrInvalidSignature):
		writeError(c, http.StatusBadRequest, "INVALID_SIGNATURE", "invalid payment signature")
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeError(c, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "account not found")
	case errors.Is(err, ledger.ErrWithdrawalNotFound):
		writeError(c, http.StatusNotFound, "WITHDRAWAL_NOT_FOUND", "withdrawal not found")
	case errors.Is(err, ledger.ErrAlreadyActivatedToday):
		writeError(c, http.StatusConflict, "ALREADY_ACTIVATED_TODAY", "already activated today")
	case errors.Is(err, ledger.ErrWithdrawalNotPending):
		writeError(c, http.StatusConflict, "WITHDRAWAL_NOT_PENDING", "withdrawal not pending")
	case errors.Is(err, storage.ErrDuplicateEmail):
		writeError(c, http.StatusConflict, "EMAIL_TAKEN", "email already registered")
	case errors.Is(err, storage.ErrAccountExists):
		writeError(c, http.StatusConflict, "ACCOUNT_EXISTS", "account already exists")
	case errors.Is(err, storage.ErrDepositMismatch):
		writeError(c, http.StatusConflict, "DEPOSIT_MISMATCH", "deposit does not match its order")
	case errors.Is(err, accrual.ErrAlreadySwept):
		writeError(c, http.StatusConflict, "ALREADY_SWEPT", "accrual already ran today")
	case errors.Is(err, referral.ErrGraphCycleDetected):
		h.Logger.Error(logMessage, "error", err, "request_id", httpmiddleware.RequestIDFromContext(c))
		writeError(c, http.StatusInternalServerError, "GRAPH_CYCLE_DETECTED", "referral graph cycle detected")
	default:
		h.Logger.Error(logMessage, "error", err, "request_id", httpmiddleware.RequestIDFromContext(c))
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func bindAmount(c *gin.Context) (decimal.Decimal, bool) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "amount must be positive")
		return decimal.Zero, false
	}
	return amount, true
}

func toAccountItem(a *ledger.Account) accountItem {
	if a == nil {
		return accountItem{}
	}
	item := accountItem{
		ID:           a.ID.String(),
		Name:         a.Name,
		Email:        a.Email,
		ReferralCode: a.ReferralCode,
		ReferredBy:   a.ReferredBy,
		Wallet: walletItem{
			Balance:            a.Wallet.Balance.String(),
			ROIEarnings:        a.Wallet.ROIEarnings.String(),
			CommissionEarnings: a.Wallet.CommissionEarnings.String(),
			TotalTopUp:         a.Wallet.TotalTopUp.String(),
			PendingTopUp:       a.Wallet.PendingTopUp.String(),
		},
		ROI: roiItem{
			DailyRate:     a.ROI.DailyRate.String(),
			MaxReturn:     a.ROI.MaxReturn.String(),
			IsActive:      a.ROI.IsActive,
			TotalReturned: a.ROI.TotalReturned.String(),
		},
		CreatedAt: formatTime(a.CreatedAt),
	}
	if a.ROI.LastActivated != nil {
		last := formatTime(*a.ROI.LastActivated)
		item.ROI.LastActivated = &last
	}
	return item
}

func toWithdrawalItem(w ledger.Withdrawal) withdrawalItem {
	item := withdrawalItem{
		ID:          w.ID.String(),
		AccountID:   w.AccountID.String(),
		Amount:      w.Amount.String(),
		Status:      string(w.Status),
		RequestedAt: formatTime(w.RequestedAt),
		Notes:       w.Notes,
	}
	if w.ProcessedAt != nil {
		processed := formatTime(*w.ProcessedAt)
		item.ProcessedAt = &processed
	}
	return item
}

func accountIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	accountID, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(accountID)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}
