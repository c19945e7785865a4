package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/saini-30/chargemint/libs/config"
	"github.com/saini-30/chargemint/services/wallet/internal/commission"
	"github.com/saini-30/chargemint/services/wallet/internal/referral"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	MaxConns int
}

func (c DBConfig) DSN() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
	if c.MaxConns > 0 {
		dsn += fmt.Sprintf("&pool_max_conns=%d", c.MaxConns)
	}
	return dsn
}

type StorageConfig struct {
	Driver string
}

type KafkaTopics struct {
	PaymentsConfirmed string
	DeadLetter        string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Enabled reports whether a redis address was configured. Without one the
// accrual lock and rate limiter fall back to in-process implementations.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type AuthConfig struct {
	JWTSecret string
}

type PaymentConfig struct {
	Secret string
}

type AccrualConfig struct {
	Enabled  bool
	Schedule string
	Timezone string
	Workers  int
	LockTTL  time.Duration
	Timeout  time.Duration
	Location *time.Location
}

type ReferralConfig struct {
	TreeDepth int
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	App        base.AppConfig
	DB         DBConfig
	Storage    StorageConfig
	Kafka      KafkaConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Payment    PaymentConfig
	Accrual    AccrualConfig
	Commission commission.Params
	Referral   ReferralConfig
	RateLimit  RateLimitConfig
}

func Load() (*Config, error) {
	if err := base.LoadDotEnv(); err != nil {
		return nil, err
	}

	path := os.Getenv("CMW_CONFIG")
	appCfg, err := base.Load(path)
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	setDefaults(v)

	commissionParams, err := loadCommission(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", v.GetString("db.host")),
			Port:     envInt("POSTGRES_PORT", v.GetInt("db.port")),
			Name:     envString("POSTGRES_DB", v.GetString("db.name")),
			User:     envString("POSTGRES_USER", v.GetString("db.user")),
			Password: envString("POSTGRES_PASSWORD", v.GetString("db.password")),
			SSLMode:  envString("POSTGRES_SSLMODE", v.GetString("db.sslmode")),
			MaxConns: v.GetInt("db.max_conns"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString("storage.driver"))),
		},
		Kafka: KafkaConfig{
			Enabled:       v.GetBool("kafka.enabled"),
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				PaymentsConfirmed: envString("KAFKA_PAYMENTS_TOPIC", v.GetString("kafka.topics.payments_confirmed")),
				DeadLetter:        envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		Auth: AuthConfig{
			JWTSecret: envString("JWT_SECRET", v.GetString("auth.jwt_secret")),
		},
		Payment: PaymentConfig{
			Secret: envString("PAYMENT_SECRET", v.GetString("payment.secret")),
		},
		Accrual: AccrualConfig{
			Enabled:  v.GetBool("accrual.enabled"),
			Schedule: v.GetString("accrual.schedule"),
			Timezone: v.GetString("accrual.timezone"),
			Workers:  v.GetInt("accrual.workers"),
			LockTTL:  envDuration("ACCRUAL_LOCK_TTL", v.GetDuration("accrual.lock_ttl")),
			Timeout:  envDuration("ACCRUAL_TIMEOUT", v.GetDuration("accrual.timeout")),
		},
		Commission: commissionParams,
		Referral: ReferralConfig{
			TreeDepth: v.GetInt("referral.tree_depth"),
		},
		RateLimit: RateLimitConfig{
			Limit:  v.GetInt("rate_limit.limit"),
			Window: v.GetDuration("rate_limit.window"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.App.HTTP.Port <= 0 {
		return fmt.Errorf("CMW_HTTP_PORT must be positive")
	}
	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.DB.Host == "" || c.DB.Name == "" {
			return fmt.Errorf("postgres host and database required")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers required")
		}
		if c.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka consumer group required")
		}
		if c.Kafka.Topics.PaymentsConfirmed == "" {
			return fmt.Errorf("kafka payments topic required")
		}
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret required")
	}
	if c.Payment.Secret == "" {
		return fmt.Errorf("payment secret required")
	}
	if c.Accrual.Enabled && strings.TrimSpace(c.Accrual.Schedule) == "" {
		return fmt.Errorf("accrual schedule required")
	}
	if c.Accrual.Workers <= 0 {
		return fmt.Errorf("accrual workers must be positive")
	}
	loc, err := time.LoadLocation(c.Accrual.Timezone)
	if err != nil {
		return fmt.Errorf("accrual timezone: %w", err)
	}
	c.Accrual.Location = loc
	if c.Referral.TreeDepth < 1 || c.Referral.TreeDepth > referral.MaxTreeDepth {
		return fmt.Errorf("referral tree depth must be between 1 and %d", referral.MaxTreeDepth)
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit and window must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "chargemint")
	v.SetDefault("db.user", "chargemint")
	v.SetDefault("db.password", "chargemint")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "wallet-service")
	v.SetDefault("kafka.topics.payments_confirmed", "payments.confirmed")
	v.SetDefault("kafka.topics.dead_letter", "wallet.dlq")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chargemint:wallet")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("payment.secret", "")
	v.SetDefault("accrual.enabled", true)
	v.SetDefault("accrual.schedule", "0 0 * * *")
	v.SetDefault("accrual.timezone", "Asia/Kolkata")
	v.SetDefault("accrual.workers", 8)
	v.SetDefault("accrual.lock_ttl", "23h")
	v.SetDefault("accrual.timeout", "30m")
	v.SetDefault("commission.first_level_rate", "0.20")
	v.SetDefault("commission.decay", "0.5")
	v.SetDefault("commission.max_levels", 10)
	v.SetDefault("commission.min_amount", "0.01")
	v.SetDefault("referral.tree_depth", referral.DefaultTreeDepth)
	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.window", "1m")
}

func loadCommission(v *viper.Viper) (commission.Params, error) {
	var p commission.Params
	var err error
	if p.FirstLevelRate, err = decimalValue(v, "commission.first_level_rate"); err != nil {
		return p, err
	}
	if p.Decay, err = decimalValue(v, "commission.decay"); err != nil {
		return p, err
	}
	if p.MinAmount, err = decimalValue(v, "commission.min_amount"); err != nil {
		return p, err
	}
	p.MaxLevels = v.GetInt("commission.max_levels")

	one := decimal.NewFromInt(1)
	if !p.FirstLevelRate.IsPositive() || p.FirstLevelRate.GreaterThan(one) {
		return p, fmt.Errorf("commission first level rate must be in (0, 1]")
	}
	if !p.Decay.IsPositive() || p.Decay.GreaterThan(one) {
		return p, fmt.Errorf("commission decay must be in (0, 1]")
	}
	if p.MinAmount.IsNegative() {
		return p, fmt.Errorf("commission min amount must not be negative")
	}
	if p.MaxLevels <= 0 {
		return p, fmt.Errorf("commission max levels must be positive")
	}
	return p, nil
}

func decimalValue(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
