package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/saini-30/chargemint/services/wallet/internal/accrual"
	"github.com/saini-30/chargemint/services/wallet/internal/commission"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/payment"
	"github.com/saini-30/chargemint/services/wallet/internal/rate"
	"github.com/saini-30/chargemint/services/wallet/internal/referral"
	"github.com/saini-30/chargemint/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

const (
	codeAttempts        = 5
	defaultListLimit    = 50
	maxListLimit        = 200
	operationActivate   = "activate"
	operationWithdrawal = "withdrawal"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrAccrualUnconfigured = errors.New("accrual sweeper not configured")
)

// RateLimitError carries the wait before the operation may be retried.
type RateLimitError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s retry after %s", ErrRateLimited, e.Operation, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

type Store interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, a *ledger.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	GetAccountByCode(ctx context.Context, code string) (*ledger.Account, error)
	ListReferrals(ctx context.Context, referrerCode string) ([]*ledger.Account, error)
	SearchAccounts(ctx context.Context, query string, limit int) ([]*ledger.Account, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]ledger.Transaction, error)
	HasReference(ctx context.Context, accountID uuid.UUID, reference string) (bool, error)
	MutateAccount(ctx context.Context, id uuid.UUID, fn func(*ledger.Account) error) (*ledger.Account, error)
	RecordDepositIntent(ctx context.Context, dep storage.Deposit, fn func(*ledger.Account) error) (*ledger.Account, error)
	ConfirmDeposit(ctx context.Context, dep storage.Deposit, fn func(*ledger.Account) error) (*ledger.Account, error)
	FindWithdrawalAccount(ctx context.Context, withdrawalID uuid.UUID) (uuid.UUID, error)
	ListPendingWithdrawals(ctx context.Context, limit int) ([]storage.PendingWithdrawal, error)
	Stats(ctx context.Context) (storage.PlatformStats, error)
}

type EventPublisher interface {
	PublishAccountChange(ctx context.Context, correlationID string, a *ledger.Account) error
}

type Sweeper interface {
	Run(ctx context.Context, now time.Time, force bool) (accrual.SweepResult, error)
}

type Options struct {
	Commission    commission.Params
	PaymentSecret []byte
	Location      *time.Location
	TreeDepth     int
	Limiter       rate.Limiter
	Sweeper       Sweeper
	Publisher     EventPublisher
	Metrics       *Metrics
	Logger        *slog.Logger
	Now           func() time.Time
}

type Registration struct {
	AccountID    uuid.UUID
	Name         string
	Email        string
	ReferralCode string
}

type DepositResult struct {
	Account    *ledger.Account
	Replayed   bool
	Commission commission.Result
}

type DashboardStats struct {
	TotalEarnings decimal.Decimal
	DailyRate     decimal.Decimal
	ReferralCount int
	CanWithdraw   bool
}

type Dashboard struct {
	Account *ledger.Account
	Tree    *referral.Node
	Stats   DashboardStats
}

type WalletService struct {
	store         Store
	engine        *commission.Engine
	sweeper       Sweeper
	limiter       rate.Limiter
	publisher     EventPublisher
	paymentSecret []byte
	loc           *time.Location
	treeDepth     int
	now           func() time.Time
	logger        *slog.Logger
	metrics       *Metrics
}

func NewWalletService(store Store, opts Options) *WalletService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TreeDepth <= 0 {
		opts.TreeDepth = referral.DefaultTreeDepth
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Commission.MaxLevels == 0 {
		opts.Commission = commission.DefaultParams()
	}
	return &WalletService{
		store:         store,
		engine:        commission.NewEngine(opts.Commission, store, store, opts.Logger),
		sweeper:       opts.Sweeper,
		limiter:       opts.Limiter,
		publisher:     opts.Publisher,
		paymentSecret: opts.PaymentSecret,
		loc:           opts.Location,
		treeDepth:     opts.TreeDepth,
		now:           opts.Now,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
}

func (s *WalletService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Register creates the account for an authenticated identity. An unknown or malformed
// referral code is ignored and the account starts without a referrer.
func (s *WalletService) Register(ctx context.Context, req Registration) (*ledger.Account, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	switch {
	case req.AccountID == uuid.Nil:
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case email == "" || !strings.Contains(email, "@"):
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}

	referredBy, err := s.resolveReferrer(ctx, req.ReferralCode)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := referral.GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("generate referral code: %w", err)
		}
		a := ledger.NewAccount(req.AccountID, code, referredBy, now)
		a.Name = name
		a.Email = email

		err = s.store.CreateAccount(ctx, a)
		if errors.Is(err, storage.ErrDuplicateCode) {
			s.logger.Debug("referral code collision", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		s.metrics.IncRegistration(a.HasReferrer())
		s.logger.Info("account registered", "account_id", a.ID, "referral_code", a.ReferralCode, "referred_by", a.ReferredBy)
		return a, nil
	}
	return nil, fmt.Errorf("allocate referral code: %w", storage.ErrDuplicateCode)
}

func (s *WalletService) resolveReferrer(ctx context.Context, raw string) (string, error) {
	code := referral.NormalizeCode(raw)
	if code == "" {
		return "", nil
	}
	if !referral.ValidCode(code) {
		s.logger.Info("ignoring malformed referral code", "referral_code", code)
		return "", nil
	}
	referrer, err := s.store.GetAccountByCode(ctx, code)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		s.logger.Info("ignoring unknown referral code", "referral_code", code)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve referral code: %w", err)
	}
	return referrer.ReferralCode, nil
}

// CreateDepositIntent opens a gateway order and books the amount as pending top-up.
func (s *WalletService) CreateDepositIntent(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (storage.Deposit, error) {
	if !amount.IsPositive() {
		return storage.Deposit{}, ledger.ErrInvalidAmount
	}
	now := s.now()
	dep := storage.Deposit{
		ID:        uuid.New(),
		AccountID: accountID,
		OrderID:   payment.NewOrderID(),
		Amount:    amount,
		Status:    storage.DepositCreated,
		CreatedAt: now,
	}
	committed, err := s.store.RecordDepositIntent(ctx, dep, func(a *ledger.Account) error {
		return a.ReservePendingTopUp(amount, now)
	})
	if err != nil {
		return storage.Deposit{}, err
	}
	s.publish(ctx, dep.OrderID, committed)
	s.logger.Info("deposit intent created", "account_id", accountID, "order_id", dep.OrderID, "amount", amount.String())
	return dep, nil
}

// ConfirmDeposit applies a signed gateway confirmation and runs the commission cascade.
// A payment that was already credited is not credited again, but the cascade is re-run so
// that levels left unpaid by an interrupted attempt are completed.
func (s *WalletService) ConfirmDeposit(ctx context.Context, c payment.Confirmation) (DepositResult, error) {
	var res DepositResult
	if err := c.Validate(); err != nil {
		s.metrics.IncDeposit("invalid")
		return res, err
	}
	if err := payment.VerifySignature(s.paymentSecret, c.OrderID, c.PaymentID, c.Signature); err != nil {
		s.metrics.IncDeposit("invalid_signature")
		s.logger.Warn("deposit signature rejected", "account_id", c.AccountID, "order_id", c.OrderID, "payment_id", c.PaymentID)
		return res, err
	}

	now := s.now()
	paidAt := now
	dep := storage.Deposit{
		ID:        uuid.New(),
		AccountID: c.AccountID,
		OrderID:   c.OrderID,
		PaymentID: c.PaymentID,
		Amount:    c.Amount,
		Status:    storage.DepositPaid,
		CreatedAt: now,
		PaidAt:    &paidAt,
	}
	committed, err := s.store.ConfirmDeposit(ctx, dep, func(a *ledger.Account) error {
		_, err := a.ConfirmTopUp(c.Amount, c.PaymentID, now)
		return err
	})

	depositor := committed
	switch {
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		owned, herr := s.store.HasReference(ctx, c.AccountID, c.PaymentID)
		if herr != nil {
			s.metrics.IncDeposit("error")
			return res, herr
		}
		if !owned {
			s.metrics.IncDeposit("mismatch")
			return res, storage.ErrDepositMismatch
		}
		if depositor, err = s.store.GetAccount(ctx, c.AccountID); err != nil {
			s.metrics.IncDeposit("error")
			return res, err
		}
		res.Replayed = true
		s.metrics.IncDeposit("replayed")
		s.logger.Info("deposit already applied", "account_id", c.AccountID, "payment_id", c.PaymentID)
	case err != nil:
		s.metrics.IncDeposit("error")
		return res, err
	default:
		s.metrics.IncDeposit("confirmed")
		s.publish(ctx, c.PaymentID, committed)
		s.logger.Info("deposit confirmed", "account_id", c.AccountID, "payment_id", c.PaymentID, "amount", c.Amount.String())
	}
	res.Account = depositor

	cascade, err := s.engine.Cascade(ctx, depositor, c.Amount, c.PaymentID, now)
	res.Commission = cascade
	for _, a := range cascade.Committed {
		s.publish(ctx, c.PaymentID, a)
	}
	levels := make([]int, 0, len(cascade.Payouts))
	for _, p := range cascade.Payouts {
		if !p.Replayed {
			levels = append(levels, p.Level)
		}
	}
	s.metrics.ObserveCascade(levels, string(cascade.Stop))
	if err != nil {
		s.logger.Error("commission cascade failed", "account_id", c.AccountID, "payment_id", c.PaymentID, "error", err)
		return res, fmt.Errorf("commission cascade: %w", err)
	}
	return res, nil
}

// Activate sets today's activation flag for the owner.
func (s *WalletService) Activate(ctx context.Context, accountID uuid.UUID) (*ledger.Account, error) {
	if err := s.allow(ctx, operationActivate, accountID); err != nil {
		return nil, err
	}
	now := s.now()
	committed, err := s.store.MutateAccount(ctx, accountID, func(a *ledger.Account) error {
		return a.Activate(now, s.loc)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyActivatedToday) {
			s.metrics.IncActivation("already_active")
		} else {
			s.metrics.IncActivation("error")
		}
		return nil, err
	}
	s.metrics.IncActivation("success")
	s.publish(ctx, "", committed)
	return committed, nil
}

// SetActive is the admin activation toggle.
func (s *WalletService) SetActive(ctx context.Context, accountID uuid.UUID, active bool) (*ledger.Account, error) {
	now := s.now()
	committed, err := s.store.MutateAccount(ctx, accountID, func(a *ledger.Account) error {
		a.SetActive(active, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account activation toggled", "account_id", accountID, "active", active)
	s.publish(ctx, "", committed)
	return committed, nil
}

func (s *WalletService) RequestWithdrawal(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (ledger.Withdrawal, error) {
	if err := s.allow(ctx, operationWithdrawal, accountID); err != nil {
		return ledger.Withdrawal{}, err
	}
	now := s.now()
	var w ledger.Withdrawal
	committed, err := s.store.MutateAccount(ctx, accountID, func(a *ledger.Account) error {
		var err error
		w, err = a.RequestWithdrawal(amount, now)
		return err
	})
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	s.metrics.IncWithdrawal(string(ledger.WithdrawalPending))
	s.publish(ctx, w.ID.String(), committed)
	s.logger.Info("withdrawal requested", "account_id", accountID, "withdrawal_id", w.ID, "amount", amount.String())
	return w, nil
}

// ProcessWithdrawal moves a pending withdrawal to approved or rejected.
func (s *WalletService) ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID, status ledger.WithdrawalStatus, notes string) (ledger.Withdrawal, error) {
	if status != ledger.WithdrawalApproved && status != ledger.WithdrawalRejected {
		return ledger.Withdrawal{}, fmt.Errorf("%w: status must be approved or rejected", ErrInvalidInput)
	}
	accountID, err := s.store.FindWithdrawalAccount(ctx, withdrawalID)
	if err != nil {
		return ledger.Withdrawal{}, err
	}

	now := s.now()
	var w ledger.Withdrawal
	committed, err := s.store.MutateAccount(ctx, accountID, func(a *ledger.Account) error {
		var err error
		if status == ledger.WithdrawalApproved {
			w, err = a.ApproveWithdrawal(withdrawalID, notes, now)
		} else {
			w, err = a.RejectWithdrawal(withdrawalID, notes, now)
		}
		return err
	})
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	s.metrics.IncWithdrawal(string(w.Status))
	s.publish(ctx, w.ID.String(), committed)
	s.logger.Info("withdrawal processed", "account_id", accountID, "withdrawal_id", w.ID, "status", w.Status)
	return w, nil
}

func (s *WalletService) ApproveWithdrawal(ctx context.Context, withdrawalID uuid.UUID, notes string) (ledger.Withdrawal, error) {
	return s.ProcessWithdrawal(ctx, withdrawalID, ledger.WithdrawalApproved, notes)
}

func (s *WalletService) RejectWithdrawal(ctx context.Context, withdrawalID uuid.UUID, notes string) (ledger.Withdrawal, error) {
	return s.ProcessWithdrawal(ctx, withdrawalID, ledger.WithdrawalRejected, notes)
}

// Dashboard returns the owner's wallet together with the downline tree.
func (s *WalletService) Dashboard(ctx context.Context, accountID uuid.UUID) (Dashboard, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Dashboard{}, err
	}
	tree, err := referral.BuildTree(ctx, s.store, accountID, s.treeDepth)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{
		Account: a,
		Tree:    tree,
		Stats: DashboardStats{
			TotalEarnings: a.TotalEarnings(),
			DailyRate:     a.ROI.DailyRate,
			ReferralCount: len(tree.Children),
			CanWithdraw:   a.ROIComplete(),
		},
	}, nil
}

func (s *WalletService) Transactions(ctx context.Context, accountID uuid.UUID, limit int) ([]ledger.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, accountID, clampLimit(limit))
}

func (s *WalletService) AdminStats(ctx context.Context) (storage.PlatformStats, error) {
	return s.store.Stats(ctx)
}

func (s *WalletService) PendingWithdrawals(ctx context.Context, limit int) ([]storage.PendingWithdrawal, error) {
	return s.store.ListPendingWithdrawals(ctx, clampLimit(limit))
}

func (s *WalletService) SearchAccounts(ctx context.Context, query string, limit int) ([]*ledger.Account, error) {
	return s.store.SearchAccounts(ctx, query, clampLimit(limit))
}

// RunAccrual sweeps the current date. force skips the per-date claim, used by the admin
// trigger; accounts are still paid at most once per date.
func (s *WalletService) RunAccrual(ctx context.Context, force bool) (accrual.SweepResult, error) {
	return s.runAccrual(ctx, s.now(), force)
}

// ScheduledAccrual is the cron entry point. A date another replica already swept is not
// an error.
func (s *WalletService) ScheduledAccrual(ctx context.Context, now time.Time) error {
	_, err := s.runAccrual(ctx, now, false)
	if errors.Is(err, accrual.ErrAlreadySwept) {
		s.logger.Info("accrual already swept", "run_date", accrual.RunDate(now, s.loc))
		return nil
	}
	return err
}

func (s *WalletService) runAccrual(ctx context.Context, now time.Time, force bool) (accrual.SweepResult, error) {
	if s.sweeper == nil {
		return accrual.SweepResult{}, ErrAccrualUnconfigured
	}
	start := time.Now()
	res, err := s.sweeper.Run(ctx, now, force)
	status := "success"
	switch {
	case errors.Is(err, accrual.ErrAlreadySwept):
		status = "skipped"
	case err != nil:
		status = "error"
		s.logger.Error("accrual sweep failed", "run_date", res.RunDate, "error", err)
	}
	s.metrics.ObserveAccrual(status, res.Paid, res.Capped, res.Skipped, res.Failed, time.Since(start))
	return res, err
}

func (s *WalletService) allow(ctx context.Context, operation string, accountID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	ok, retry, err := s.limiter.Allow(ctx, rate.Key(operation, accountID.String()), s.now())
	if err != nil {
		s.logger.Warn("rate limiter unavailable", "operation", operation, "error", err)
		return nil
	}
	if !ok {
		s.metrics.IncRateLimited(operation)
		return &RateLimitError{Operation: operation, RetryAfter: retry}
	}
	return nil
}

func (s *WalletService) publish(ctx context.Context, correlationID string, a *ledger.Account) {
	if s.publisher == nil || a == nil {
		return
	}
	if err := s.publisher.PublishAccountChange(ctx, correlationID, a); err != nil {
		s.metrics.IncPublishFailure()
		s.logger.Error("publish account change failed", "account_id", a.ID, "version", a.Version, "error", err)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
