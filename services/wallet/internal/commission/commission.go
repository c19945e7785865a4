package commission

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const amountPrecision = 8

type Params struct {
	FirstLevelRate decimal.Decimal
	Decay          decimal.Decimal
	MaxLevels      int
	MinAmount      decimal.Decimal
}

func DefaultParams() Params {
	return Params{
		FirstLevelRate: decimal.RequireFromString("0.20"),
		Decay:          decimal.RequireFromString("0.5"),
		MaxLevels:      10,
		MinAmount:      decimal.RequireFromString("0.01"),
	}
}

// Amount is deposit * firstLevelRate * decay^(level-1). Levels start at 1.
func (p Params) Amount(deposit decimal.Decimal, level int) decimal.Decimal {
	if level < 1 || !deposit.IsPositive() {
		return decimal.Zero
	}
	amount := deposit.Mul(p.FirstLevelRate)
	for i := 1; i < level; i++ {
		amount = amount.Mul(p.Decay)
	}
	return amount.Truncate(amountPrecision)
}

// Plan lists the payable amount per level for a chain of unbounded length. It stops at
// MaxLevels or at the first amount below MinAmount.
func (p Params) Plan(deposit decimal.Decimal) []decimal.Decimal {
	var out []decimal.Decimal
	for level := 1; level <= p.MaxLevels; level++ {
		amount := p.Amount(deposit, level)
		if amount.LessThan(p.MinAmount) {
			break
		}
		out = append(out, amount)
	}
	return out
}

func Description(level int, depositorCode string) string {
	if level == 1 {
		return "Referral commission from " + depositorCode
	}
	return fmt.Sprintf("Level %d referral commission", level)
}

// Reference is the per-level idempotency key of a commission credit.
func Reference(paymentID string, level int) string {
	return fmt.Sprintf("commission:%s:L%d", paymentID, level)
}
