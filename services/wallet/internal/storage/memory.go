package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps accounts in process. Mutations are serialised by a single mutex and
// applied to a clone that only replaces the stored aggregate when fn and validation succeed.
type MemoryStore struct {
	mu         sync.Mutex
	accounts   map[uuid.UUID]*ledger.Account
	byCode     map[string]uuid.UUID
	byEmail    map[string]uuid.UUID
	references map[uuid.UUID]map[string]struct{}
	deposits   map[string]*Deposit
	payments   map[string]struct{}
	runs       map[string]AccrualRun
	order      []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   map[uuid.UUID]*ledger.Account{},
		byCode:     map[string]uuid.UUID{},
		byEmail:    map[string]uuid.UUID{},
		references: map[uuid.UUID]map[string]struct{}{},
		deposits:   map[string]*Deposit{},
		payments:   map[string]struct{}{},
		runs:       map[string]AccrualRun{},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) CreateAccount(ctx context.Context, a *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.ID]; ok {
		return ErrAccountExists
	}
	email := strings.ToLower(a.Email)
	if email != "" {
		if _, ok := m.byEmail[email]; ok {
			return ErrDuplicateEmail
		}
	}
	if _, ok := m.byCode[a.ReferralCode]; ok {
		return ErrDuplicateCode
	}

	c := a.Clone()
	c.Email = email
	c.MarkPersisted()
	m.accounts[c.ID] = c
	m.byCode[c.ReferralCode] = c.ID
	if email != "" {
		m.byEmail[email] = c.ID
	}
	m.order = append(m.order, c.ID)
	return nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) GetAccountByCode(ctx context.Context, code string) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byCode[code]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return m.accounts[id].Clone(), nil
}

func (m *MemoryStore) ListReferrals(ctx context.Context, referrerCode string) ([]*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Account
	for _, id := range m.order {
		if a := m.accounts[id]; a.ReferredBy == referrerCode {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) SearchAccounts(ctx context.Context, query string, limit int) ([]*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []*ledger.Account
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		a := m.accounts[m.order[i]]
		if strings.Contains(strings.ToLower(a.Name), q) ||
			strings.Contains(a.Email, q) ||
			strings.Contains(strings.ToLower(a.ReferralCode), q) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, nil
	}
	out := a.TransactionsNewestFirst()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) HasReference(ctx context.Context, accountID uuid.UUID, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.references[accountID][reference]
	return ok, nil
}

func (m *MemoryStore) MutateAccount(ctx context.Context, id uuid.UUID, fn func(*ledger.Account) error) (*ledger.Account, error) {
	return m.mutate(id, fn, nil)
}

func (m *MemoryStore) RecordDepositIntent(ctx context.Context, dep Deposit, fn func(*ledger.Account) error) (*ledger.Account, error) {
	return m.mutate(dep.AccountID, fn, func() (func(), error) {
		if _, ok := m.deposits[dep.OrderID]; ok {
			return nil, ledger.ErrDuplicateTransaction
		}
		return func() {
			d := dep
			d.Status = DepositCreated
			m.deposits[dep.OrderID] = &d
		}, nil
	})
}

func (m *MemoryStore) ConfirmDeposit(ctx context.Context, dep Deposit, fn func(*ledger.Account) error) (*ledger.Account, error) {
	return m.mutate(dep.AccountID, fn, func() (func(), error) {
		if _, ok := m.payments[dep.PaymentID]; ok {
			return nil, ledger.ErrDuplicateTransaction
		}
		if existing, ok := m.deposits[dep.OrderID]; ok && dep.OrderID != "" {
			if existing.AccountID != dep.AccountID || !existing.Amount.Equal(dep.Amount) {
				return nil, ErrDepositMismatch
			}
			if existing.Status == DepositPaid {
				return nil, ledger.ErrDuplicateTransaction
			}
		}
		return func() {
			d := dep
			d.Status = DepositPaid
			m.payments[dep.PaymentID] = struct{}{}
			if dep.OrderID != "" {
				m.deposits[dep.OrderID] = &d
			}
		}, nil
	})
}

func (m *MemoryStore) FindWithdrawalAccount(ctx context.Context, withdrawalID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if _, ok := a.Withdrawal(withdrawalID); ok {
			return a.ID, nil
		}
	}
	return uuid.Nil, ledger.ErrWithdrawalNotFound
}

func (m *MemoryStore) ListPendingWithdrawals(ctx context.Context, limit int) ([]PendingWithdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingWithdrawal
	for _, id := range m.order {
		a := m.accounts[id]
		for _, w := range a.Withdrawals {
			if w.Status != ledger.WithdrawalPending {
				continue
			}
			out = append(out, PendingWithdrawal{
				Withdrawal:   w,
				AccountName:  a.Name,
				AccountEmail: a.Email,
				ReferralCode: a.ReferralCode,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListAccrualCandidates(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for _, id := range m.order {
		a := m.accounts[id]
		if a.ROI.IsActive && a.Wallet.TotalTopUp.IsPositive() {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (PlatformStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := PlatformStats{TotalTopUps: decimal.Zero, TotalROIPaid: decimal.Zero}
	for _, a := range m.accounts {
		stats.TotalUsers++
		if a.ROI.IsActive {
			stats.ActiveUsers++
		}
		stats.TotalTopUps = stats.TotalTopUps.Add(a.Wallet.TotalTopUp)
		stats.TotalROIPaid = stats.TotalROIPaid.Add(a.ROI.TotalReturned)
		for _, w := range a.Withdrawals {
			if w.Status == ledger.WithdrawalPending {
				stats.PendingWithdrawals++
			}
		}
	}
	return stats, nil
}

func (m *MemoryStore) RecordAccrualRun(ctx context.Context, run AccrualRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.runs[run.RunDate]; ok {
		run.StartedAt = prev.StartedAt
		run.Paid += prev.Paid
		run.Capped += prev.Capped
		run.Skipped += prev.Skipped
		run.Failed += prev.Failed
		run.TotalPaid = run.TotalPaid.Add(prev.TotalPaid)
	}
	m.runs[run.RunDate] = run
	return nil
}

func (m *MemoryStore) AccrualRun(runDate string) (AccrualRun, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runDate]
	return run, ok
}

// mutate mirrors Store.mutate. check runs after fn under the lock and returns a commit
// hook for side tables.
func (m *MemoryStore) mutate(id uuid.UUID, fn func(*ledger.Account) error, check func() (func(), error)) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	working := stored.Clone()
	working.MarkPersisted()

	if err := fn(working); err != nil {
		return nil, err
	}
	if err := working.Validate(); err != nil {
		return nil, err
	}

	refs := m.references[id]
	for _, t := range working.NewTransactions() {
		if t.Reference == "" {
			continue
		}
		if _, dup := refs[t.Reference]; dup {
			return nil, ledger.ErrDuplicateTransaction
		}
	}

	var commit func()
	if check != nil {
		var err error
		if commit, err = check(); err != nil {
			return nil, err
		}
	}

	if refs == nil {
		refs = map[string]struct{}{}
		m.references[id] = refs
	}
	for _, t := range working.NewTransactions() {
		if t.Reference != "" {
			refs[t.Reference] = struct{}{}
		}
	}
	if commit != nil {
		commit()
	}

	working.Version++
	result := working.Clone()
	working.MarkPersisted()
	m.accounts[id] = working
	return result, nil
}
