package commission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/referral"
	"github.com/shopspring/decimal"
)

type StopReason string

const (
	StopNoReferrer      StopReason = "no_referrer"
	StopMaxLevel        StopReason = "max_level"
	StopBelowFloor      StopReason = "below_floor"
	StopMissingAncestor StopReason = "missing_ancestor"
	StopCycle           StopReason = "cycle"
)

// Mutator runs fn against the locked account and commits its changes atomically.
type Mutator interface {
	MutateAccount(ctx context.Context, id uuid.UUID, fn func(*ledger.Account) error) (*ledger.Account, error)
}

type Payout struct {
	AccountID uuid.UUID
	Level     int
	Amount    decimal.Decimal
	// Replayed is true when the credit was already recorded by an earlier run.
	Replayed bool
}

type Result struct {
	Payouts      []Payout
	RateUpgraded bool
	Stop         StopReason
	// Committed holds the post-mutation aggregates whose change sets should be published.
	Committed []*ledger.Account
}

type Engine struct {
	params   Params
	resolver referral.Resolver
	store    Mutator
	logger   *slog.Logger
}

func NewEngine(params Params, resolver referral.Resolver, store Mutator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{params: params, resolver: resolver, store: store, logger: logger}
}

func (e *Engine) Params() Params {
	return e.params
}

// Cascade walks the depositor's referrer chain and credits each ancestor its commission.
// Each credit is its own atomic mutation keyed by paymentID and level, so a repeated
// cascade for the same payment skips credits that already committed.
func (e *Engine) Cascade(ctx context.Context, depositor *ledger.Account, deposit decimal.Decimal, paymentID string, now time.Time) (Result, error) {
	var res Result
	if !depositor.HasReferrer() {
		res.Stop = StopNoReferrer
		return res, nil
	}

	it := referral.NewAncestors(e.resolver, depositor)
	for {
		anc, ok, err := it.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, referral.ErrGraphCycleDetected):
				e.logger.Error("commission cascade stopped on cycle", "depositor_id", depositor.ID, "payment_id", paymentID, "error", err)
				res.Stop = StopCycle
				return res, nil
			case errors.Is(err, ledger.ErrAccountNotFound):
				e.logger.Warn("commission cascade stopped on missing ancestor", "depositor_id", depositor.ID, "payment_id", paymentID, "error", err)
				res.Stop = StopMissingAncestor
				return res, nil
			default:
				return res, err
			}
		}
		if !ok {
			res.Stop = StopNoReferrer
			return res, nil
		}
		if anc.Level > e.params.MaxLevels {
			res.Stop = StopMaxLevel
			return res, nil
		}
		amount := e.params.Amount(deposit, anc.Level)
		if amount.LessThan(e.params.MinAmount) {
			res.Stop = StopBelowFloor
			return res, nil
		}

		payout, upgraded, committed, err := e.credit(ctx, anc, depositor.ReferralCode, amount, paymentID, now)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			e.logger.Warn("commission cascade stopped on vanished ancestor", "depositor_id", depositor.ID, "account_id", anc.Account.ID, "payment_id", paymentID)
			res.Stop = StopMissingAncestor
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Payouts = append(res.Payouts, payout)
		res.RateUpgraded = res.RateUpgraded || upgraded
		if committed != nil {
			res.Committed = append(res.Committed, committed)
		}
	}
}

func (e *Engine) credit(ctx context.Context, anc referral.Ancestor, depositorCode string, amount decimal.Decimal, paymentID string, now time.Time) (Payout, bool, *ledger.Account, error) {
	payout := Payout{AccountID: anc.Account.ID, Level: anc.Level, Amount: amount}
	upgraded := false

	committed, err := e.store.MutateAccount(ctx, anc.Account.ID, func(a *ledger.Account) error {
		upgraded = false
		if anc.Level == 1 {
			upgraded = a.UpgradeDailyRate()
		}
		_, err := a.CreditReference(ledger.BucketCommission, amount, Description(anc.Level, depositorCode), ledger.KindCommission, Reference(paymentID, anc.Level), now)
		return err
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		payout.Replayed = true
		return payout, false, nil, nil
	}
	if err != nil {
		return payout, false, nil, err
	}
	if upgraded {
		e.logger.Info("referrer daily rate upgraded", "account_id", anc.Account.ID, "daily_rate", committed.ROI.DailyRate.String())
	}
	return payout, upgraded, committed, nil
}
