package accrual

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/storage"
)

func seed(t *testing.T, s *storage.MemoryStore, code, topUp, returned string, active bool) *ledger.Account {
	t.Helper()
	a := ledger.NewAccount(uuid.New(), code, "", day)
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("create: %v", err)
	}
	committed, err := s.MutateAccount(context.Background(), a.ID, func(acct *ledger.Account) error {
		if _, err := acct.ConfirmTopUp(d(topUp), "pay_"+code, day); err != nil {
			return err
		}
		acct.ROI.TotalReturned = d(returned)
		acct.ROI.IsActive = active
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return committed
}

type duplicatingStore struct {
	*storage.MemoryStore
}

func (s duplicatingStore) ListAccrualCandidates(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.MemoryStore.ListAccrualCandidates(ctx)
	return append(ids, ids...), err
}

func TestSweeperRun(t *testing.T) {
	store := storage.NewMemoryStore()
	a := seed(t, store, "AAAAAAAA", "10000", "19900", true)
	b := seed(t, store, "BBBBBBBB", "1000", "0", true)
	seed(t, store, "CCCCCCCC", "1000", "0", false)

	var mu sync.Mutex
	var committed []uuid.UUID
	sweeper := NewSweeper(duplicatingStore{store}, Options{
		Workers:  3,
		Recorder: store,
		OnCommit: func(ctx context.Context, acct *ledger.Account) {
			mu.Lock()
			committed = append(committed, acct.ID)
			mu.Unlock()
		},
	})

	res, err := sweeper.Run(context.Background(), day, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Paid != 2 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.TotalPaid.Equal(d("120")) {
		t.Fatalf("expected 100 + 20, got %s", res.TotalPaid)
	}
	if len(committed) != 2 {
		t.Fatalf("expected 2 committed aggregates, got %d", len(committed))
	}

	gotA, _ := store.GetAccount(context.Background(), a.ID)
	if !gotA.ROI.TotalReturned.Equal(d("20000")) || gotA.ROI.IsActive {
		t.Fatalf("unexpected account a: returned %s active %v", gotA.ROI.TotalReturned, gotA.ROI.IsActive)
	}
	gotB, _ := store.GetAccount(context.Background(), b.ID)
	if !gotB.Wallet.ROIEarnings.Equal(d("20")) {
		t.Fatalf("expected b to earn 20, got %s", gotB.Wallet.ROIEarnings)
	}

	run, ok := store.AccrualRun("2024-07-01")
	if !ok || run.Paid != 2 {
		t.Fatalf("expected recorded run, got %+v", run)
	}

	if _, err := sweeper.Run(context.Background(), day.Add(time.Hour), false); !errors.Is(err, ErrAlreadySwept) {
		t.Fatalf("expected ErrAlreadySwept, got %v", err)
	}
}

func TestSweeperForcedRunPaysOncePerDate(t *testing.T) {
	store := storage.NewMemoryStore()
	a := seed(t, store, "AAAAAAAA", "1000", "0", true)
	sweeper := NewSweeper(store, Options{Workers: 1})

	if _, err := sweeper.Run(context.Background(), day, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	// an admin re-enables the account on the same day
	if _, err := store.MutateAccount(context.Background(), a.ID, func(acct *ledger.Account) error {
		acct.SetActive(true, day)
		return nil
	}); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	res, err := sweeper.Run(context.Background(), day, true)
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if res.Paid != 0 || res.Skipped != 1 {
		t.Fatalf("expected second payout on same date to be skipped, got %+v", res)
	}
	got, _ := store.GetAccount(context.Background(), a.ID)
	if !got.Wallet.ROIEarnings.Equal(d("20")) {
		t.Fatalf("expected single payout, got %s", got.Wallet.ROIEarnings)
	}

	res, err = sweeper.Run(context.Background(), day.Add(24*time.Hour), false)
	if err != nil {
		t.Fatalf("next day: %v", err)
	}
	if res.Paid != 1 {
		t.Fatalf("expected payout on next date, got %+v", res)
	}
}

func TestRedisLockClaimsDateOnce(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	lock := NewRedisLock(client, "test:")
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "2024-07-01", time.Hour)
	if err != nil || !ok {
		t.Fatalf("expected first claim, got %v %v", ok, err)
	}
	ok, err = lock.Acquire(ctx, "2024-07-01", time.Hour)
	if err != nil || ok {
		t.Fatalf("expected second claim to fail, got %v %v", ok, err)
	}
	ok, err = lock.Acquire(ctx, "2024-07-02", time.Hour)
	if err != nil || !ok {
		t.Fatalf("expected other date to be claimable")
	}

	s.FastForward(2 * time.Hour)
	ok, err = lock.Acquire(ctx, "2024-07-01", time.Hour)
	if err != nil || !ok {
		t.Fatalf("expected claim after ttl")
	}
}

func TestMemoryLockExpiry(t *testing.T) {
	lock := NewMemoryLock()
	current := day
	lock.now = func() time.Time { return current }

	if ok, _ := lock.Acquire(context.Background(), "2024-07-01", time.Hour); !ok {
		t.Fatalf("expected claim")
	}
	if ok, _ := lock.Acquire(context.Background(), "2024-07-01", time.Hour); ok {
		t.Fatalf("expected duplicate claim to fail")
	}
	current = current.Add(2 * time.Hour)
	if ok, _ := lock.Acquire(context.Background(), "2024-07-01", time.Hour); !ok {
		t.Fatalf("expected claim after expiry")
	}
}
