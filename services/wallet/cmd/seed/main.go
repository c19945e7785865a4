package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saini-30/chargemint/libs/auth"
	"github.com/saini-30/chargemint/libs/logging"
	"github.com/saini-30/chargemint/services/wallet/internal/config"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/payment"
	"github.com/saini-30/chargemint/services/wallet/internal/service"
	"github.com/saini-30/chargemint/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

const tokenTTL = 24 * time.Hour

type demoAccount struct {
	ID      uuid.UUID
	Name    string
	Email   string
	Deposit string
	Admin   bool
}

// demoChain is registered in order; each account is referred by the one before it.
var demoChain = []demoAccount{
	{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Name: "Demo Admin", Email: "admin@example.com", Deposit: "500", Admin: true},
	{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Name: "Asha", Email: "asha@example.com", Deposit: "1000"},
	{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), Name: "Ravi", Email: "ravi@example.com", Deposit: "2500"},
	{ID: uuid.MustParse("00000000-0000-0000-0000-000000000004"), Name: "Meera", Email: "meera@example.com", Deposit: "750"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.App.Env != "dev" && cfg.App.Env != "test" {
		log.Fatalf("refusing to seed: CMW_ENV must be 'dev' or 'test' (got '%s')", cfg.App.Env)
	}
	if cfg.Storage.Driver != config.StorageDriverPostgres {
		log.Fatalf("refusing to seed: storage driver must be postgres (got '%s')", cfg.Storage.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	logger := logging.NewLogger("warn", "wallet-seed", cfg.App.Env)
	svc := service.NewWalletService(storage.New(pool, logger), service.Options{
		Commission:    cfg.Commission,
		PaymentSecret: []byte(cfg.Payment.Secret),
		Location:      cfg.Accrual.Location,
		TreeDepth:     cfg.Referral.TreeDepth,
		Logger:        logger,
	})

	fmt.Println("Seeding wallet...")

	accounts, err := seedChain(ctx, svc, []byte(cfg.Payment.Secret), demoChain)
	if err != nil {
		log.Fatalf("seed referral chain: %v", err)
	}
	fmt.Println("✓ Referral chain seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, svc, []byte(cfg.Payment.Secret), accounts[len(accounts)-1]); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nAccounts:")
	for i, a := range accounts {
		fmt.Printf("  %s  code=%s  balance=%s\n", demoChain[i].Email, a.ReferralCode, a.Wallet.Balance.StringFixed(2))
	}

	if cfg.App.Env == "dev" {
		fmt.Println("\nBearer tokens (DEV ONLY):")
		now := time.Now()
		for _, d := range demoChain {
			var roles []string
			if d.Admin {
				roles = []string{auth.RoleAdmin}
			}
			token, err := auth.SignJWT(d.ID.String(), roles, []byte(cfg.Auth.JWTSecret), tokenTTL, now)
			if err != nil {
				log.Fatalf("sign token: %v", err)
			}
			fmt.Printf("  %s: %s\n", d.Email, token)
		}
	}
}

// seedChain registers the accounts and confirms one deposit each. Re-running it is safe:
// existing accounts are reused and deposits replay by payment id.
func seedChain(ctx context.Context, svc *service.WalletService, secret []byte, chain []demoAccount) ([]*ledger.Account, error) {
	out := make([]*ledger.Account, 0, len(chain))
	referrer := ""
	for i, d := range chain {
		acct, err := ensureAccount(ctx, svc, service.Registration{
			AccountID:    d.ID,
			Name:         d.Name,
			Email:        d.Email,
			ReferralCode: referrer,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Email, err)
		}
		referrer = acct.ReferralCode
		out = append(out, acct)

		if d.Deposit == "" {
			continue
		}
		if _, err := confirmDeposit(ctx, svc, secret, acct.ID, d.Deposit, fmt.Sprintf("seed_%d", i)); err != nil {
			return nil, fmt.Errorf("%s deposit: %w", d.Email, err)
		}
	}

	// reload so balances include commissions paid by later deposits
	for i, a := range out {
		dash, err := svc.Dashboard(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out[i] = dash.Account
	}
	return out, nil
}

func ensureAccount(ctx context.Context, svc *service.WalletService, reg service.Registration) (*ledger.Account, error) {
	acct, err := svc.Register(ctx, reg)
	if errors.Is(err, storage.ErrAccountExists) {
		dash, derr := svc.Dashboard(ctx, reg.AccountID)
		if derr != nil {
			return nil, derr
		}
		return dash.Account, nil
	}
	return acct, err
}

func confirmDeposit(ctx context.Context, svc *service.WalletService, secret []byte, accountID uuid.UUID, amount, paymentID string) (service.DepositResult, error) {
	orderID := "order_" + paymentID
	return svc.ConfirmDeposit(ctx, payment.Confirmation{
		AccountID: accountID,
		Amount:    decimal.RequireFromString(amount),
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: payment.Sign(secret, orderID, paymentID),
	})
}
