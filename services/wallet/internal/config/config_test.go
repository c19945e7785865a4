package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CMW_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("PAYMENT_SECRET", "payment-secret")
	t.Setenv("CMW_ACCRUAL_TIMEZONE", "UTC")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != StorageDriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.Storage.Driver)
	}
	if cfg.Kafka.Topics.PaymentsConfirmed != "payments.confirmed" {
		t.Fatalf("unexpected payments topic %q", cfg.Kafka.Topics.PaymentsConfirmed)
	}
	if cfg.Accrual.Schedule != "0 0 * * *" || cfg.Accrual.Location != time.UTC {
		t.Fatalf("unexpected accrual config %+v", cfg.Accrual)
	}
	if !cfg.Commission.FirstLevelRate.Equal(decimal.RequireFromString("0.2")) || cfg.Commission.MaxLevels != 10 {
		t.Fatalf("unexpected commission params %+v", cfg.Commission)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis must be disabled without an address")
	}
	if !strings.Contains(cfg.DB.DSN(), "/chargemint?sslmode=disable") {
		t.Fatalf("unexpected dsn %q", cfg.DB.DSN())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("ACCRUAL_TIMEOUT", "5m")
	t.Setenv("CMW_STORAGE_DRIVER", "Memory")
	t.Setenv("CMW_COMMISSION_DECAY", "0.25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if !cfg.Redis.Enabled() {
		t.Fatalf("expected redis enabled")
	}
	if cfg.DB.Port != 6543 {
		t.Fatalf("expected port override, got %d", cfg.DB.Port)
	}
	if cfg.Accrual.Timeout != 5*time.Minute {
		t.Fatalf("expected timeout override, got %s", cfg.Accrual.Timeout)
	}
	if cfg.Storage.Driver != StorageDriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.Storage.Driver)
	}
	if !cfg.Commission.Decay.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("expected decay override, got %s", cfg.Commission.Decay)
	}
}

func TestLoadReadsFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "referral:\n  tree_depth: 3\nrate_limit:\n  limit: 2\n  window: 30s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CMW_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Referral.TreeDepth != 3 {
		t.Fatalf("expected tree depth 3, got %d", cfg.Referral.TreeDepth)
	}
	if cfg.RateLimit.Limit != 2 || cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"missing jwt", "JWT_SECRET", "", "jwt secret"},
		{"missing payment secret", "PAYMENT_SECRET", "", "payment secret"},
		{"unknown driver", "CMW_STORAGE_DRIVER", "sqlite", "unknown storage driver"},
		{"bad timezone", "CMW_ACCRUAL_TIMEZONE", "Mars/Base", "accrual timezone"},
		{"deep tree", "CMW_REFERRAL_TREE_DEPTH", "9", "tree depth"},
		{"bad decay", "CMW_COMMISSION_DECAY", "1.5", "decay"},
		{"bad rate", "CMW_COMMISSION_FIRST_LEVEL_RATE", "abc", "first_level_rate"},
		{"no workers", "CMW_ACCRUAL_WORKERS", "0", "workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
