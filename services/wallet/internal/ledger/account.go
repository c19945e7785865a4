package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Bucket string

const (
	BucketTopUp      Bucket = "topup"
	BucketROI        Bucket = "roi"
	BucketCommission Bucket = "commission"
)

type TransactionKind string

const (
	KindTopUp      TransactionKind = "topup"
	KindROI        TransactionKind = "roi"
	KindCommission TransactionKind = "commission"
	KindWithdrawal TransactionKind = "withdrawal"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

var (
	DefaultDailyRate  = decimal.NewFromInt(2)
	UpgradedDailyRate = decimal.NewFromInt(3)
	DefaultMaxReturn  = decimal.NewFromInt(200)

	hundred = decimal.NewFromInt(100)
)

type Wallet struct {
	Balance            decimal.Decimal
	ROIEarnings        decimal.Decimal
	CommissionEarnings decimal.Decimal
	TotalTopUp         decimal.Decimal
	PendingTopUp       decimal.Decimal
}

type ROISettings struct {
	DailyRate     decimal.Decimal
	MaxReturn     decimal.Decimal
	IsActive      bool
	LastActivated *time.Time
	TotalReturned decimal.Decimal
}

type Transaction struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Kind        TransactionKind
	Amount      decimal.Decimal
	Description string
	Status      TransactionStatus
	Reference   string
	CreatedAt   time.Time
}

// Account is the aggregate persisted as one row plus its append-only transaction and
// withdrawal lists. Mutating methods record what changed so the store can persist the
// delta in the same database transaction as the wallet columns.
type Account struct {
	ID           uuid.UUID
	Name         string
	Email        string
	ReferralCode string
	ReferredBy   string
	Wallet       Wallet
	ROI          ROISettings
	Transactions []Transaction
	Withdrawals  []Withdrawal
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time

	appended []Transaction
	dirty    map[uuid.UUID]struct{}
}

func NewAccount(id uuid.UUID, referralCode, referredBy string, now time.Time) *Account {
	return &Account{
		ID:           id,
		ReferralCode: referralCode,
		ReferredBy:   referredBy,
		Wallet: Wallet{
			Balance:            decimal.Zero,
			ROIEarnings:        decimal.Zero,
			CommissionEarnings: decimal.Zero,
			TotalTopUp:         decimal.Zero,
			PendingTopUp:       decimal.Zero,
		},
		ROI: ROISettings{
			DailyRate:     DefaultDailyRate,
			MaxReturn:     DefaultMaxReturn,
			TotalReturned: decimal.Zero,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (a *Account) HasReferrer() bool {
	return a.ReferredBy != ""
}

// MaxReturnAmount is the ROI ceiling: totalTopUp * maxReturn / 100.
func (a *Account) MaxReturnAmount() decimal.Decimal {
	return a.Wallet.TotalTopUp.Mul(a.ROI.MaxReturn).Div(hundred)
}

func (a *Account) RemainingCap() decimal.Decimal {
	remaining := a.MaxReturnAmount().Sub(a.ROI.TotalReturned)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

func (a *Account) ROIComplete() bool {
	return a.ROI.TotalReturned.GreaterThanOrEqual(a.MaxReturnAmount())
}

func (a *Account) TotalEarnings() decimal.Decimal {
	return a.Wallet.ROIEarnings.Add(a.Wallet.CommissionEarnings)
}

// Credit increases the named bucket and the balance, and appends a completed transaction.
func (a *Account) Credit(bucket Bucket, amount decimal.Decimal, description string, kind TransactionKind, now time.Time) (Transaction, error) {
	return a.CreditReference(bucket, amount, description, kind, "", now)
}

// CreditReference is Credit with an idempotency reference. The store rejects a second
// transaction carrying the same non-empty reference for one account.
func (a *Account) CreditReference(bucket Bucket, amount decimal.Decimal, description string, kind TransactionKind, reference string, now time.Time) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	switch bucket {
	case BucketTopUp:
		a.Wallet.TotalTopUp = a.Wallet.TotalTopUp.Add(amount)
	case BucketROI:
		a.Wallet.ROIEarnings = a.Wallet.ROIEarnings.Add(amount)
	case BucketCommission:
		a.Wallet.CommissionEarnings = a.Wallet.CommissionEarnings.Add(amount)
	default:
		return Transaction{}, fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}
	a.Wallet.Balance = a.Wallet.Balance.Add(amount)
	return a.appendTransaction(kind, amount, description, TxCompleted, reference, now), nil
}

// ReservePendingTopUp records a deposit intent before the gateway confirms it.
func (a *Account) ReservePendingTopUp(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	a.Wallet.PendingTopUp = a.Wallet.PendingTopUp.Add(amount)
	a.UpdatedAt = now
	return nil
}

// ConfirmTopUp moves a confirmed deposit out of pendingTopUp and credits it.
func (a *Account) ConfirmTopUp(amount decimal.Decimal, paymentID string, now time.Time) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	pending := a.Wallet.PendingTopUp.Sub(amount)
	if pending.IsNegative() {
		pending = decimal.Zero
	}
	tx, err := a.CreditReference(BucketTopUp, amount, "Top-up via payment gateway - "+paymentID, KindTopUp, paymentID, now)
	if err != nil {
		return Transaction{}, err
	}
	a.Wallet.PendingTopUp = pending
	return tx, nil
}

// UpgradeDailyRate lifts the rate from 2 to 3 when the account has deposited before.
// It reports whether the rate changed; the rate never goes down.
func (a *Account) UpgradeDailyRate() bool {
	if !a.ROI.DailyRate.Equal(DefaultDailyRate) || !a.Wallet.TotalTopUp.IsPositive() {
		return false
	}
	a.ROI.DailyRate = UpgradedDailyRate
	return true
}

// Activate sets the daily activation flag. Days are compared as calendar dates in loc.
func (a *Account) Activate(now time.Time, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	if a.ROI.LastActivated != nil && sameDay(a.ROI.LastActivated.In(loc), now.In(loc)) {
		return ErrAlreadyActivatedToday
	}
	activated := now
	a.ROI.IsActive = true
	a.ROI.LastActivated = &activated
	a.UpdatedAt = now
	return nil
}

// SetActive is the admin toggle; it leaves lastActivated untouched.
func (a *Account) SetActive(active bool, now time.Time) {
	a.ROI.IsActive = active
	a.UpdatedAt = now
}

// Validate checks the wallet invariants that must hold after every mutation.
func (a *Account) Validate() error {
	w := a.Wallet
	for name, v := range map[string]decimal.Decimal{
		"balance":             w.Balance,
		"roi_earnings":        w.ROIEarnings,
		"commission_earnings": w.CommissionEarnings,
		"total_top_up":        w.TotalTopUp,
		"pending_top_up":      w.PendingTopUp,
		"total_returned":      a.ROI.TotalReturned,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s is negative", ErrInvariantViolated, name)
		}
	}
	if a.ROI.TotalReturned.GreaterThan(a.MaxReturnAmount()) {
		return fmt.Errorf("%w: total returned exceeds cap", ErrInvariantViolated)
	}
	return nil
}

// TransactionsNewestFirst returns a copy of the log sorted by timestamp descending.
func (a *Account) TransactionsNewestFirst() []Transaction {
	out := make([]Transaction, len(a.Transactions))
	copy(out, a.Transactions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// NewTransactions returns transactions appended since load.
func (a *Account) NewTransactions() []Transaction {
	out := make([]Transaction, len(a.appended))
	copy(out, a.appended)
	return out
}

// ChangedWithdrawals returns withdrawals created or transitioned since load.
func (a *Account) ChangedWithdrawals() []Withdrawal {
	out := make([]Withdrawal, 0, len(a.dirty))
	for _, w := range a.Withdrawals {
		if _, ok := a.dirty[w.ID]; ok {
			out = append(out, w)
		}
	}
	return out
}

// MarkPersisted clears the change set after the store has written it.
func (a *Account) MarkPersisted() {
	a.appended = nil
	a.dirty = nil
}

func (a *Account) Clone() *Account {
	c := *a
	c.Transactions = append([]Transaction(nil), a.Transactions...)
	c.Withdrawals = append([]Withdrawal(nil), a.Withdrawals...)
	c.appended = append([]Transaction(nil), a.appended...)
	if a.ROI.LastActivated != nil {
		t := *a.ROI.LastActivated
		c.ROI.LastActivated = &t
	}
	for i := range c.Withdrawals {
		if p := c.Withdrawals[i].ProcessedAt; p != nil {
			t := *p
			c.Withdrawals[i].ProcessedAt = &t
		}
	}
	if a.dirty != nil {
		c.dirty = make(map[uuid.UUID]struct{}, len(a.dirty))
		for k := range a.dirty {
			c.dirty[k] = struct{}{}
		}
	}
	return &c
}

func (a *Account) appendTransaction(kind TransactionKind, amount decimal.Decimal, description string, status TransactionStatus, reference string, now time.Time) Transaction {
	tx := Transaction{
		ID:          uuid.New(),
		AccountID:   a.ID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Status:      status,
		Reference:   reference,
		CreatedAt:   now,
	}
	a.Transactions = append(a.Transactions, tx)
	a.appended = append(a.appended, tx)
	a.UpdatedAt = now
	return tx
}

func (a *Account) markDirty(id uuid.UUID) {
	if a.dirty == nil {
		a.dirty = map[uuid.UUID]struct{}{}
	}
	a.dirty[id] = struct{}{}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
