package accrual

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

var ErrAlreadySwept = errors.New("accrual already ran for this date")

var errNoChange = errors.New("no change")

type Store interface {
	ListAccrualCandidates(ctx context.Context) ([]uuid.UUID, error)
	MutateAccount(ctx context.Context, id uuid.UUID, fn func(*ledger.Account) error) (*ledger.Account, error)
}

type RunRecorder interface {
	RecordAccrualRun(ctx context.Context, run storage.AccrualRun) error
}

type Options struct {
	Workers  int
	Location *time.Location
	LockTTL  time.Duration
	Lock     Lock
	Recorder RunRecorder
	// OnCommit is called with every aggregate the sweep changed.
	OnCommit func(ctx context.Context, a *ledger.Account)
	Logger   *slog.Logger
}

type Sweeper struct {
	store    Store
	lock     Lock
	recorder RunRecorder
	onCommit func(ctx context.Context, a *ledger.Account)
	logger   *slog.Logger
	workers  int
	loc      *time.Location
	lockTTL  time.Duration
}

func NewSweeper(store Store, opts Options) *Sweeper {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 36 * time.Hour
	}
	if opts.Lock == nil {
		opts.Lock = NewMemoryLock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		lock:     opts.Lock,
		recorder: opts.Recorder,
		onCommit: opts.OnCommit,
		logger:   opts.Logger,
		workers:  opts.Workers,
		loc:      opts.Location,
		lockTTL:  opts.LockTTL,
	}
}

func (s *Sweeper) Location() *time.Location {
	return s.loc
}

// Run performs the sweep for the calendar date of now. Without force the date is claimed
// through the lock first; a second run for a claimed date returns ErrAlreadySwept. Forced
// runs still pay each account at most once per date.
func (s *Sweeper) Run(ctx context.Context, now time.Time, force bool) (SweepResult, error) {
	runDate := RunDate(now, s.loc)
	res := SweepResult{RunDate: runDate, TotalPaid: decimal.Zero}

	if !force {
		ok, err := s.lock.Acquire(ctx, runDate, s.lockTTL)
		if err != nil {
			return res, err
		}
		if !ok {
			return res, ErrAlreadySwept
		}
	}

	ids, err := s.store.ListAccrualCandidates(ctx)
	if err != nil {
		return res, err
	}
	ids = dedupe(ids)

	jobs := make(chan uuid.UUID)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				outcome, amount, acct, err := s.applyOne(ctx, id, runDate, now)
				mu.Lock()
				if err != nil {
					res.Failed++
				} else {
					res.add(outcome, amount)
				}
				mu.Unlock()
				if err != nil {
					s.logger.Error("accrual failed", "account_id", id, "run_date", runDate, "error", err)
					continue
				}
				if acct != nil && s.onCommit != nil {
					s.onCommit(ctx, acct)
				}
			}
		}()
	}

feed:
	for _, id := range ids {
		select {
		case jobs <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if s.recorder != nil {
		run := storage.AccrualRun{
			RunDate:    runDate,
			StartedAt:  now,
			FinishedAt: time.Now().UTC(),
			Paid:       res.Paid,
			Capped:     res.Capped,
			Skipped:    res.Skipped,
			Failed:     res.Failed,
			TotalPaid:  res.TotalPaid,
		}
		if err := s.recorder.RecordAccrualRun(ctx, run); err != nil {
			s.logger.Warn("record accrual run failed", "run_date", runDate, "error", err)
		}
	}

	s.logger.Info("accrual sweep finished",
		"run_date", runDate,
		"candidates", len(ids),
		"paid", res.Paid,
		"capped", res.Capped,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"total_paid", res.TotalPaid.String(),
	)
	return res, ctx.Err()
}

func (s *Sweeper) applyOne(ctx context.Context, id uuid.UUID, runDate string, now time.Time) (Outcome, decimal.Decimal, *ledger.Account, error) {
	var outcome Outcome
	var amount decimal.Decimal
	acct, err := s.store.MutateAccount(ctx, id, func(a *ledger.Account) error {
		var err error
		outcome, amount, err = Apply(a, runDate, now)
		if err != nil {
			return err
		}
		if outcome == OutcomeIneligible {
			return errNoChange
		}
		return nil
	})
	switch {
	case errors.Is(err, errNoChange), errors.Is(err, ledger.ErrDuplicateTransaction):
		return OutcomeIneligible, decimal.Zero, nil, nil
	case errors.Is(err, ledger.ErrAccountNotFound):
		return OutcomeIneligible, decimal.Zero, nil, nil
	case err != nil:
		return "", decimal.Zero, nil, err
	}
	return outcome, amount, acct, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
