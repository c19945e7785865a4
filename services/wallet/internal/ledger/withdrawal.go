package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

type Withdrawal struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Status      WithdrawalStatus
	RequestedAt time.Time
	ProcessedAt *time.Time
	Notes       string
}

func (w Withdrawal) Terminal() bool {
	return w.Status == WithdrawalApproved || w.Status == WithdrawalRejected
}

// PendingHolds is the sum of pending withdrawal amounts already held out of the balance.
func (a *Account) PendingHolds() decimal.Decimal {
	total := decimal.Zero
	for _, w := range a.Withdrawals {
		if w.Status == WithdrawalPending {
			total = total.Add(w.Amount)
		}
	}
	return total
}

// WithdrawableEarnings is roi + commission earnings not yet claimed by a pending request.
func (a *Account) WithdrawableEarnings() decimal.Decimal {
	available := a.TotalEarnings().Sub(a.PendingHolds())
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// RequestWithdrawal appends a pending withdrawal and holds its amount out of the balance.
// The hold is what RejectWithdrawal refunds.
func (a *Account) RequestWithdrawal(amount decimal.Decimal, now time.Time) (Withdrawal, error) {
	if !amount.IsPositive() {
		return Withdrawal{}, ErrInvalidAmount
	}
	if !a.ROIComplete() {
		return Withdrawal{}, ErrROINotComplete
	}
	if amount.GreaterThan(a.WithdrawableEarnings()) || amount.GreaterThan(a.Wallet.Balance) {
		return Withdrawal{}, ErrInsufficientFunds
	}

	w := Withdrawal{
		ID:          uuid.New(),
		AccountID:   a.ID,
		Amount:      amount,
		Status:      WithdrawalPending,
		RequestedAt: now,
	}
	a.Wallet.Balance = a.Wallet.Balance.Sub(amount)
	a.Withdrawals = append(a.Withdrawals, w)
	a.markDirty(w.ID)
	a.UpdatedAt = now
	return w, nil
}

func (a *Account) Withdrawal(id uuid.UUID) (Withdrawal, bool) {
	idx := a.withdrawalIndex(id)
	if idx < 0 {
		return Withdrawal{}, false
	}
	return a.Withdrawals[idx], true
}

// ApproveWithdrawal settles a pending withdrawal, deducting roi earnings first and
// commission earnings for the remainder. When the earnings cannot cover the amount
// the deduction is skipped and the earnings are left as they are.
func (a *Account) ApproveWithdrawal(id uuid.UUID, notes string, now time.Time) (Withdrawal, error) {
	idx, err := a.pendingWithdrawal(id)
	if err != nil {
		return Withdrawal{}, err
	}
	w := &a.Withdrawals[idx]

	if a.TotalEarnings().GreaterThanOrEqual(w.Amount) {
		fromROI := decimal.Min(a.Wallet.ROIEarnings, w.Amount)
		a.Wallet.ROIEarnings = a.Wallet.ROIEarnings.Sub(fromROI)
		a.Wallet.CommissionEarnings = a.Wallet.CommissionEarnings.Sub(w.Amount.Sub(fromROI))
	}

	a.finish(w, WithdrawalApproved, notes, now)
	a.appendTransaction(KindWithdrawal, w.Amount, "Withdrawal approved", TxCompleted, w.ID.String(), now)
	return *w, nil
}

// RejectWithdrawal closes a pending withdrawal and refunds the hold into the balance.
func (a *Account) RejectWithdrawal(id uuid.UUID, notes string, now time.Time) (Withdrawal, error) {
	idx, err := a.pendingWithdrawal(id)
	if err != nil {
		return Withdrawal{}, err
	}
	w := &a.Withdrawals[idx]

	a.Wallet.Balance = a.Wallet.Balance.Add(w.Amount)
	a.finish(w, WithdrawalRejected, notes, now)
	a.appendTransaction(KindWithdrawal, w.Amount, "Withdrawal rejected", TxFailed, w.ID.String(), now)
	return *w, nil
}

func (a *Account) finish(w *Withdrawal, status WithdrawalStatus, notes string, now time.Time) {
	processed := now
	w.Status = status
	w.ProcessedAt = &processed
	w.Notes = notes
	a.markDirty(w.ID)
	a.UpdatedAt = now
}

func (a *Account) pendingWithdrawal(id uuid.UUID) (int, error) {
	idx := a.withdrawalIndex(id)
	if idx < 0 {
		return -1, ErrWithdrawalNotFound
	}
	if a.Withdrawals[idx].Status != WithdrawalPending {
		return -1, ErrWithdrawalNotPending
	}
	return idx, nil
}

func (a *Account) withdrawalIndex(id uuid.UUID) int {
	for i := range a.Withdrawals {
		if a.Withdrawals[i].ID == id {
			return i
		}
	}
	return -1
}
