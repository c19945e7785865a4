package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/service"
	"github.com/shopspring/decimal"
)

const deepChainLength = 12

// seedTestData hangs a chain deeper than the commission level limit below tail and leaves
// one deactivated account and one pending withdrawal for admin screens.
func seedTestData(ctx context.Context, svc *service.WalletService, secret []byte, tail *ledger.Account) error {
	deep := make([]demoAccount, 0, deepChainLength)
	for i := 1; i <= deepChainLength; i++ {
		deep = append(deep, demoAccount{
			ID:    uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0001-%012d", i)),
			Name:  fmt.Sprintf("Depth %d", i),
			Email: fmt.Sprintf("depth%02d@example.com", i),
		})
	}

	referrer := tail.ReferralCode
	var last *ledger.Account
	for _, d := range deep {
		acct, err := ensureAccount(ctx, svc, service.Registration{
			AccountID:    d.ID,
			Name:         d.Name,
			Email:        d.Email,
			ReferralCode: referrer,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", d.Email, err)
		}
		referrer = acct.ReferralCode
		last = acct
	}

	if _, err := confirmDeposit(ctx, svc, secret, last.ID, "10000", "seed_deep"); err != nil {
		return fmt.Errorf("deep deposit: %w", err)
	}

	inactive := deep[0].ID
	if _, err := svc.SetActive(ctx, inactive, false); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}

	// the depositor's direct referrer has no topup of its own, so its commission is withdrawable
	pending, err := svc.PendingWithdrawals(ctx, 1)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return nil
	}
	_, err = svc.RequestWithdrawal(ctx, deep[deepChainLength-2].ID, decimal.NewFromInt(100))
	if err != nil {
		return fmt.Errorf("withdrawal: %w", err)
	}
	return nil
}
