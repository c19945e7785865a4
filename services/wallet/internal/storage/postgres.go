package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/shopspring/decimal"
)

const accountColumns = `
	id, name, COALESCE(email, ''), referral_code, COALESCE(referred_by, ''),
	balance::text, roi_earnings::text, commission_earnings::text, total_top_up::text, pending_top_up::text,
	daily_rate::text, max_return::text, roi_active, last_activated, total_returned::text,
	version, created_at, updated_at`

const (
	constraintAccountID    = "accounts_pkey"
	constraintEmail        = "accounts_email_key"
	constraintReferralCode = "accounts_referral_code_key"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateAccount inserts a new account. The referral edge is written here and never updated.
func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, name, email, referral_code, referred_by,
			balance, roi_earnings, commission_earnings, total_top_up, pending_top_up,
			daily_rate, max_return, roi_active, last_activated, total_returned,
			version, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
	`, a.ID, a.Name, strings.ToLower(a.Email), a.ReferralCode, a.ReferredBy,
		a.Wallet.Balance.String(), a.Wallet.ROIEarnings.String(), a.Wallet.CommissionEarnings.String(),
		a.Wallet.TotalTopUp.String(), a.Wallet.PendingTopUp.String(),
		a.ROI.DailyRate.String(), a.ROI.MaxReturn.String(), a.ROI.IsActive, a.ROI.LastActivated, a.ROI.TotalReturned.String(),
		a.Version, a.CreatedAt)
	if err != nil {
		switch uniqueViolation(err) {
		case constraintAccountID:
			return ErrAccountExists
		case constraintEmail:
			return ErrDuplicateEmail
		case constraintReferralCode:
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	acct, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if acct.Withdrawals, err = loadWithdrawals(ctx, s.pool, id); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Store) GetAccountByCode(ctx context.Context, code string) (*ledger.Account, error) {
	acct, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE referral_code = $1`, code))
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// ListReferrals returns the direct referrals of code in creation order.
func (s *Store) ListReferrals(ctx context.Context, referrerCode string) ([]*ledger.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE referred_by = $1
		ORDER BY created_at, id
	`, referrerCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (s *Store) SearchAccounts(ctx context.Context, query string, limit int) ([]*ledger.Account, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE name ILIKE $1 OR email ILIKE $1 OR referral_code ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListTransactions returns the account's log newest first.
func (s *Store) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, kind, amount::text, description, status, reference, created_at
		FROM account_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var kind, status, amountStr string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &kind, &amountStr, &tx.Description, &status, &tx.Reference, &tx.CreatedAt); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse transaction amount: %w", err)
		}
		tx.Amount = amount
		tx.Kind = ledger.TransactionKind(kind)
		tx.Status = ledger.TransactionStatus(status)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// HasReference reports whether the account's log already holds a transaction with reference.
func (s *Store) HasReference(ctx context.Context, accountID uuid.UUID, reference string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM account_transactions WHERE account_id = $1 AND reference = $2)
	`, accountID, reference).Scan(&exists)
	return exists, err
}

// MutateAccount locks the account row, applies fn and persists the result in one
// transaction. The returned aggregate still carries the change set fn produced.
func (s *Store) MutateAccount(ctx context.Context, id uuid.UUID, fn func(*ledger.Account) error) (*ledger.Account, error) {
	return s.mutate(ctx, id, fn, nil)
}

// RecordDepositIntent reserves a pending top-up and stores the gateway order.
func (s *Store) RecordDepositIntent(ctx context.Context, dep Deposit, fn func(*ledger.Account) error) (*ledger.Account, error) {
	return s.mutate(ctx, dep.AccountID, fn, func(ctx context.Context, tx pgx.Tx, _ *ledger.Account) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO deposits (id, account_id, order_id, amount, status, created_at)
			VALUES ($1, $2, $3, $4, 'created', $5)
		`, uuid.New(), dep.AccountID, dep.OrderID, dep.Amount.String(), dep.CreatedAt)
		if err != nil {
			if uniqueViolation(err) != "" {
				return ledger.ErrDuplicateTransaction
			}
			return err
		}
		return nil
	})
}

// ConfirmDeposit credits a confirmed payment. A payment id that was already applied yields
// ledger.ErrDuplicateTransaction and leaves the account untouched.
func (s *Store) ConfirmDeposit(ctx context.Context, dep Deposit, fn func(*ledger.Account) error) (*ledger.Account, error) {
	return s.mutate(ctx, dep.AccountID, fn, func(ctx context.Context, tx pgx.Tx, _ *ledger.Account) error {
		paidAt := dep.CreatedAt
		if dep.PaidAt != nil {
			paidAt = *dep.PaidAt
		}

		if dep.OrderID != "" {
			var ownerID uuid.UUID
			var status, amountText string
			err := tx.QueryRow(ctx, `
				SELECT account_id, status, amount::text FROM deposits WHERE order_id = $1 FOR UPDATE
			`, dep.OrderID).Scan(&ownerID, &status, &amountText)
			switch {
			case err == nil:
				amount, err := decimal.NewFromString(amountText)
				if err != nil {
					return fmt.Errorf("parse deposit amount: %w", err)
				}
				if ownerID != dep.AccountID || !amount.Equal(dep.Amount) {
					return ErrDepositMismatch
				}
				if status == string(DepositPaid) {
					return ledger.ErrDuplicateTransaction
				}
				_, err = tx.Exec(ctx, `
					UPDATE deposits SET payment_id = $1, status = 'paid', paid_at = $2
					WHERE order_id = $3
				`, dep.PaymentID, paidAt, dep.OrderID)
				if uniqueViolation(err) != "" {
					return ledger.ErrDuplicateTransaction
				}
				return err
			case !errors.Is(err, pgx.ErrNoRows):
				return err
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO deposits (id, account_id, order_id, payment_id, amount, status, created_at, paid_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, 'paid', $6, $6)
		`, uuid.New(), dep.AccountID, dep.OrderID, dep.PaymentID, dep.Amount.String(), paidAt)
		if uniqueViolation(err) != "" {
			return ledger.ErrDuplicateTransaction
		}
		return err
	})
}

func (s *Store) FindWithdrawalAccount(ctx context.Context, withdrawalID uuid.UUID) (uuid.UUID, error) {
	var accountID uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT account_id FROM withdrawals WHERE id = $1`, withdrawalID).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ledger.ErrWithdrawalNotFound
		}
		return uuid.Nil, err
	}
	return accountID, nil
}

func (s *Store) ListPendingWithdrawals(ctx context.Context, limit int) ([]PendingWithdrawal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT w.id, w.account_id, w.amount::text, w.status, w.notes, w.requested_at, w.processed_at,
			a.name, COALESCE(a.email, ''), a.referral_code
		FROM withdrawals w
		JOIN accounts a ON a.id = w.account_id
		WHERE w.status = 'pending'
		ORDER BY w.requested_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingWithdrawal
	for rows.Next() {
		var pw PendingWithdrawal
		var amountStr, status string
		if err := rows.Scan(&pw.ID, &pw.AccountID, &amountStr, &status, &pw.Notes, &pw.RequestedAt, &pw.ProcessedAt,
			&pw.AccountName, &pw.AccountEmail, &pw.ReferralCode); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse withdrawal amount: %w", err)
		}
		pw.Amount = amount
		pw.Status = ledger.WithdrawalStatus(status)
		out = append(out, pw)
	}
	return out, rows.Err()
}

// ListAccrualCandidates returns ids of activated accounts with a deposit.
func (s *Store) ListAccrualCandidates(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM accounts WHERE roi_active AND total_top_up > 0 ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (PlatformStats, error) {
	var stats PlatformStats
	var topUps, roiPaid string
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE roi_active),
			COALESCE(SUM(total_top_up), 0)::text,
			COALESCE(SUM(total_returned), 0)::text,
			(SELECT COUNT(*) FROM withdrawals WHERE status = 'pending')
		FROM accounts
	`).Scan(&stats.TotalUsers, &stats.ActiveUsers, &topUps, &roiPaid, &stats.PendingWithdrawals)
	if err != nil {
		return PlatformStats{}, err
	}
	if stats.TotalTopUps, err = decimal.NewFromString(topUps); err != nil {
		return PlatformStats{}, fmt.Errorf("parse total top ups: %w", err)
	}
	if stats.TotalROIPaid, err = decimal.NewFromString(roiPaid); err != nil {
		return PlatformStats{}, fmt.Errorf("parse total roi paid: %w", err)
	}
	return stats, nil
}

// RecordAccrualRun stores the outcome of a sweep; a rerun for the same date overwrites it.
func (s *Store) RecordAccrualRun(ctx context.Context, run AccrualRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accrual_runs (run_date, started_at, finished_at, paid, capped, skipped, failed, total_paid)
		VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_date) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			paid = accrual_runs.paid + EXCLUDED.paid,
			capped = accrual_runs.capped + EXCLUDED.capped,
			skipped = accrual_runs.skipped + EXCLUDED.skipped,
			failed = accrual_runs.failed + EXCLUDED.failed,
			total_paid = accrual_runs.total_paid + EXCLUDED.total_paid
	`, run.RunDate, run.StartedAt, run.FinishedAt, run.Paid, run.Capped, run.Skipped, run.Failed, run.TotalPaid.String())
	return err
}

func (s *Store) mutate(ctx context.Context, id uuid.UUID, fn func(*ledger.Account) error, after func(context.Context, pgx.Tx, *ledger.Account) error) (*ledger.Account, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	acct, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if acct.Withdrawals, err = loadWithdrawals(ctx, tx, id); err != nil {
		return nil, err
	}

	if err := fn(acct); err != nil {
		return nil, err
	}
	if err := acct.Validate(); err != nil {
		s.logger.Error("account mutation rejected", "account_id", id, "error", err)
		return nil, err
	}

	acct.Version++
	if _, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $1, roi_earnings = $2, commission_earnings = $3, total_top_up = $4, pending_top_up = $5,
			daily_rate = $6, roi_active = $7, last_activated = $8, total_returned = $9,
			version = $10, updated_at = $11
		WHERE id = $12
	`, acct.Wallet.Balance.String(), acct.Wallet.ROIEarnings.String(), acct.Wallet.CommissionEarnings.String(),
		acct.Wallet.TotalTopUp.String(), acct.Wallet.PendingTopUp.String(),
		acct.ROI.DailyRate.String(), acct.ROI.IsActive, acct.ROI.LastActivated, acct.ROI.TotalReturned.String(),
		acct.Version, acct.UpdatedAt, acct.ID); err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}

	for _, t := range acct.NewTransactions() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO account_transactions (id, account_id, kind, amount, description, status, reference, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, t.ID, t.AccountID, string(t.Kind), t.Amount.String(), t.Description, string(t.Status), t.Reference, t.CreatedAt); err != nil {
			if uniqueViolation(err) != "" {
				return nil, fmt.Errorf("%w: %s", ledger.ErrDuplicateTransaction, t.Reference)
			}
			return nil, fmt.Errorf("insert transaction: %w", err)
		}
	}

	for _, w := range acct.ChangedWithdrawals() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO withdrawals (id, account_id, amount, status, notes, requested_at, processed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, notes = EXCLUDED.notes, processed_at = EXCLUDED.processed_at
		`, w.ID, w.AccountID, w.Amount.String(), string(w.Status), w.Notes, w.RequestedAt, w.ProcessedAt); err != nil {
			return nil, fmt.Errorf("upsert withdrawal: %w", err)
		}
	}

	if after != nil {
		if err := after(ctx, tx, acct); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	return acct, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadWithdrawals(ctx context.Context, q querier, accountID uuid.UUID) ([]ledger.Withdrawal, error) {
	rows, err := q.Query(ctx, `
		SELECT id, account_id, amount::text, status, notes, requested_at, processed_at
		FROM withdrawals
		WHERE account_id = $1
		ORDER BY requested_at, id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Withdrawal
	for rows.Next() {
		var w ledger.Withdrawal
		var amountStr, status string
		if err := rows.Scan(&w.ID, &w.AccountID, &amountStr, &status, &w.Notes, &w.RequestedAt, &w.ProcessedAt); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse withdrawal amount: %w", err)
		}
		w.Amount = amount
		w.Status = ledger.WithdrawalStatus(status)
		out = append(out, w)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var a ledger.Account
	var balance, roi, commission, topUp, pending, rate, maxReturn, returned string
	var lastActivated *time.Time
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.ReferralCode, &a.ReferredBy,
		&balance, &roi, &commission, &topUp, &pending,
		&rate, &maxReturn, &a.ROI.IsActive, &lastActivated, &returned,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, err
	}
	a.ReferralCode = strings.TrimSpace(a.ReferralCode)
	a.ReferredBy = strings.TrimSpace(a.ReferredBy)
	a.ROI.LastActivated = lastActivated

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"balance", balance, &a.Wallet.Balance},
		{"roi_earnings", roi, &a.Wallet.ROIEarnings},
		{"commission_earnings", commission, &a.Wallet.CommissionEarnings},
		{"total_top_up", topUp, &a.Wallet.TotalTopUp},
		{"pending_top_up", pending, &a.Wallet.PendingTopUp},
		{"daily_rate", rate, &a.ROI.DailyRate},
		{"max_return", maxReturn, &a.ROI.MaxReturn},
		{"total_returned", returned, &a.ROI.TotalReturned},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return &a, nil
}

func collectAccounts(rows pgx.Rows) ([]*ledger.Account, error) {
	var out []*ledger.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

// uniqueViolation returns the violated constraint name, or "" for any other error.
func uniqueViolation(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "" {
			return "unique"
		}
		return pgErr.ConstraintName
	}
	return ""
}
