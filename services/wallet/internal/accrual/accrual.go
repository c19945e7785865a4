package accrual

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/shopspring/decimal"
)

const runDateLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

type Outcome string

const (
	OutcomePaid       Outcome = "paid"
	OutcomeCapped     Outcome = "capped"
	OutcomeIneligible Outcome = "ineligible"
)

type SweepResult struct {
	RunDate   string
	Paid      int
	Capped    int
	Skipped   int
	Failed    int
	TotalPaid decimal.Decimal
}

func (r *SweepResult) add(outcome Outcome, amount decimal.Decimal) {
	switch outcome {
	case OutcomePaid:
		r.Paid++
		r.TotalPaid = r.TotalPaid.Add(amount)
	case OutcomeCapped:
		r.Capped++
	default:
		r.Skipped++
	}
}

// RunDate is the calendar date of now in loc, used as the per-day idempotency key.
func RunDate(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(runDateLayout)
}

func Reference(runDate string) string {
	return "roi:" + runDate
}

func Description(rate decimal.Decimal) string {
	return fmt.Sprintf("Daily ROI (%s%%)", rate.String())
}

// DailyAmount is totalTopUp * dailyRate / 100.
func DailyAmount(a *ledger.Account) decimal.Decimal {
	return a.Wallet.TotalTopUp.Mul(a.ROI.DailyRate).Div(hundred)
}

// Apply pays one day of ROI to a. Eligible accounts are active with a deposit; they are
// paid min(daily amount, remaining cap) and deactivated. Accounts at the cap are only
// deactivated.
func Apply(a *ledger.Account, runDate string, now time.Time) (Outcome, decimal.Decimal, error) {
	if !a.ROI.IsActive || !a.Wallet.TotalTopUp.IsPositive() {
		return OutcomeIneligible, decimal.Zero, nil
	}

	remaining := a.RemainingCap()
	if !remaining.IsPositive() {
		a.SetActive(false, now)
		return OutcomeCapped, decimal.Zero, nil
	}

	payout := decimal.Min(DailyAmount(a), remaining)
	if !payout.IsPositive() {
		a.SetActive(false, now)
		return OutcomeCapped, decimal.Zero, nil
	}
	if _, err := a.CreditReference(ledger.BucketROI, payout, Description(a.ROI.DailyRate), ledger.KindROI, Reference(runDate), now); err != nil {
		return "", decimal.Zero, err
	}
	a.ROI.TotalReturned = a.ROI.TotalReturned.Add(payout)
	a.SetActive(false, now)
	return OutcomePaid, payout, nil
}

// RunSweep applies one accrual day to in-memory aggregates. An account listed twice is
// processed once.
func RunSweep(accounts []*ledger.Account, now time.Time) SweepResult {
	res := SweepResult{RunDate: RunDate(now, now.Location()), TotalPaid: decimal.Zero}
	seen := make(map[uuid.UUID]struct{}, len(accounts))
	for _, a := range accounts {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}

		outcome, amount, err := Apply(a, res.RunDate, now)
		if err != nil {
			res.Failed++
			continue
		}
		res.add(outcome, amount)
	}
	return res
}
