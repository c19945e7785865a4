package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SetupTestDB connects to the integration database described by the POSTGRES_* variables.
// The schema in services/wallet/migrations must already be applied.
func SetupTestDB() (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "chargemint"),
		getEnv("POSTGRES_PASSWORD", "chargemint"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "chargemint"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// CleanupTestData removes everything except the seeded demo accounts.
func CleanupTestData(ctx context.Context, pool *pgxpool.Pool) error {
	keep := "('" + DemoAccountID.String() + "','" + AdminAccountID.String() + "')"
	queries := []string{
		"DELETE FROM account_transactions WHERE account_id NOT IN " + keep,
		"DELETE FROM withdrawals WHERE account_id NOT IN " + keep,
		"DELETE FROM deposits WHERE account_id NOT IN " + keep,
		"DELETE FROM accrual_runs",
		"DELETE FROM accounts WHERE id NOT IN " + keep,
	}

	for _, q := range queries {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("cleanup %q: %w", q, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
