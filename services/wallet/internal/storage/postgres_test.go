package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saini-30/chargemint/services/testutil"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/referral"
	"github.com/shopspring/decimal"
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}
	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	t.Cleanup(func() {
		_ = testutil.CleanupTestData(context.Background(), pool)
		pool.Close()
	})
	return New(pool, nil), pool
}

func createPGAccount(t *testing.T, ctx context.Context, s *Store, referredBy string) *ledger.Account {
	t.Helper()
	code, err := referral.GenerateCode()
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	a := ledger.NewAccount(uuid.New(), code, referredBy, time.Now().UTC())
	a.Name = "it-" + code
	a.Email = code + "@example.com"
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func TestPostgresCreateAndLoad(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	root := createPGAccount(t, ctx, s, "")
	child := createPGAccount(t, ctx, s, root.ReferralCode)

	got, err := s.GetAccountByCode(ctx, child.ReferralCode)
	if err != nil {
		t.Fatalf("by code: %v", err)
	}
	if got.ReferredBy != root.ReferralCode {
		t.Fatalf("expected referred_by %s, got %q", root.ReferralCode, got.ReferredBy)
	}
	if !got.ROI.DailyRate.Equal(ledger.DefaultDailyRate) {
		t.Fatalf("expected default rate, got %s", got.ROI.DailyRate)
	}

	refs, err := s.ListReferrals(ctx, root.ReferralCode)
	if err != nil || len(refs) != 1 || refs[0].ID != child.ID {
		t.Fatalf("unexpected referrals: %v %d", err, len(refs))
	}

	dup := ledger.NewAccount(uuid.New(), "ZZZZZZZ1", "", time.Now().UTC())
	dup.Email = root.Email
	if err := s.CreateAccount(ctx, dup); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	if _, err := s.GetAccount(ctx, uuid.New()); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestPostgresMutateAccountPersistsDelta(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	a := createPGAccount(t, ctx, s, "")
	when := time.Now().UTC()

	dep := Deposit{AccountID: a.ID, OrderID: "order_" + a.ReferralCode, PaymentID: "pay_" + a.ReferralCode, Amount: decimal.NewFromInt(100), CreatedAt: when}
	confirm := func(acct *ledger.Account) error {
		_, err := acct.ConfirmTopUp(dep.Amount, dep.PaymentID, when)
		return err
	}
	if _, err := s.ConfirmDeposit(ctx, dep, confirm); err != nil {
		t.Fatalf("confirm deposit: %v", err)
	}
	if _, err := s.ConfirmDeposit(ctx, dep, confirm); !errors.Is(err, ledger.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate payment to be rejected, got %v", err)
	}

	// complete the ROI cycle and request a withdrawal
	committed, err := s.MutateAccount(ctx, a.ID, func(acct *ledger.Account) error {
		if _, err := acct.Credit(ledger.BucketROI, decimal.NewFromInt(200), "Daily ROI (2%)", ledger.KindROI, when); err != nil {
			return err
		}
		acct.ROI.TotalReturned = decimal.NewFromInt(200)
		_, err := acct.RequestWithdrawal(decimal.NewFromInt(50), when)
		return err
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if committed.Version != 2 {
		t.Fatalf("expected version 2, got %d", committed.Version)
	}

	loaded, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !loaded.Wallet.Balance.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected balance 250, got %s", loaded.Wallet.Balance)
	}
	if len(loaded.Withdrawals) != 1 || loaded.Withdrawals[0].Status != ledger.WithdrawalPending {
		t.Fatalf("expected one pending withdrawal, got %+v", loaded.Withdrawals)
	}

	owner, err := s.FindWithdrawalAccount(ctx, loaded.Withdrawals[0].ID)
	if err != nil || owner != a.ID {
		t.Fatalf("find withdrawal account: %v %s", err, owner)
	}

	txs, err := s.ListTransactions(ctx, a.ID, 10)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 2 || txs[0].Kind != ledger.KindROI {
		t.Fatalf("expected newest-first log of 2, got %d", len(txs))
	}
}

func TestPostgresConfirmDepositKeepsOrderAmount(t *testing.T) {
	s, pool := setupStore(t)
	ctx := context.Background()
	a := createPGAccount(t, ctx, s, "")
	when := time.Now().UTC()

	intent := Deposit{ID: uuid.New(), AccountID: a.ID, OrderID: "order_" + a.ReferralCode, Amount: decimal.NewFromInt(10), Status: DepositCreated, CreatedAt: when}
	if _, err := s.RecordDepositIntent(ctx, intent, func(acct *ledger.Account) error {
		return acct.ReservePendingTopUp(intent.Amount, when)
	}); err != nil {
		t.Fatalf("intent: %v", err)
	}

	confirm := func(dep Deposit) error {
		_, err := s.ConfirmDeposit(ctx, dep, func(acct *ledger.Account) error {
			_, err := acct.ConfirmTopUp(dep.Amount, dep.PaymentID, when)
			return err
		})
		return err
	}
	inflated := Deposit{AccountID: a.ID, OrderID: intent.OrderID, PaymentID: "pay_" + a.ReferralCode, Amount: decimal.NewFromInt(1000000), CreatedAt: when}
	if err := confirm(inflated); !errors.Is(err, ErrDepositMismatch) {
		t.Fatalf("expected ErrDepositMismatch, got %v", err)
	}

	var stored string
	if err := pool.QueryRow(ctx, `SELECT amount::text FROM deposits WHERE order_id = $1`, intent.OrderID).Scan(&stored); err != nil {
		t.Fatalf("load deposit: %v", err)
	}
	if !decimal.RequireFromString(stored).Equal(intent.Amount) {
		t.Fatalf("order amount must stay 10, got %s", stored)
	}

	inflated.Amount = intent.Amount
	if err := confirm(inflated); err != nil {
		t.Fatalf("confirm matching amount: %v", err)
	}
	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Wallet.TotalTopUp.Equal(intent.Amount) {
		t.Fatalf("expected top-up 10, got %s", got.Wallet.TotalTopUp)
	}
}

func TestPostgresMutateAccountSerialisesWriters(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	a := createPGAccount(t, ctx, s, "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.MutateAccount(ctx, a.ID, func(acct *ledger.Account) error {
				_, err := acct.Credit(ledger.BucketCommission, decimal.RequireFromString("0.5"), "c", ledger.KindCommission, time.Now().UTC())
				return err
			})
			if err != nil {
				t.Errorf("mutate: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Wallet.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected balance 10, got %s", got.Wallet.Balance)
	}
}
