package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountExists   = errors.New("account already exists")
	ErrDuplicateEmail  = errors.New("email already registered")
	ErrDuplicateCode   = errors.New("referral code already taken")
	ErrDepositMismatch = errors.New("deposit does not match its order")
)

type DepositStatus string

const (
	DepositCreated DepositStatus = "created"
	DepositPaid    DepositStatus = "paid"
)

type Deposit struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
	Status    DepositStatus
	CreatedAt time.Time
	PaidAt    *time.Time
}

type PendingWithdrawal struct {
	ledger.Withdrawal
	AccountName  string
	AccountEmail string
	ReferralCode string
}

type PlatformStats struct {
	TotalUsers         int64
	ActiveUsers        int64
	TotalTopUps        decimal.Decimal
	TotalROIPaid       decimal.Decimal
	PendingWithdrawals int64
}

type AccrualRun struct {
	RunDate    string
	StartedAt  time.Time
	FinishedAt time.Time
	Paid       int
	Capped     int
	Skipped    int
	Failed     int
	TotalPaid  decimal.Decimal
}
