package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/hms/hms/internal/domain/inpatient"
	"github.com/hms/hms/pkg/calendar"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DBLockTimeout      time.Duration `mapstructure:"DB_LOCK_TIMEOUT"`
	DBTxRetries        int           `mapstructure:"DB_TX_RETRIES"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	RabbitMQURL        string        `mapstructure:"RABBITMQ_URL"`
	OutboxQueue        string        `mapstructure:"OUTBOX_QUEUE"`
	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxWebhookURL   string        `mapstructure:"OUTBOX_WEBHOOK_URL"`
	OutboxWebhookKey   string        `mapstructure:"OUTBOX_WEBHOOK_SECRET"`
	HospitalTimezone   string        `mapstructure:"HOSPITAL_TIMEZONE"`
	AccrualRunAt       string        `mapstructure:"ACCRUAL_RUN_AT"`
	RecoveryStrategy   string        `mapstructure:"RECOVERY_STRATEGY"`
	// Amounts stay strings until Recovery parses them as decimals.
	RecoveryBalanceThreshold   string   `mapstructure:"RECOVERY_BALANCE_THRESHOLD"`
	RecoveryMaxNegativeBalance string   `mapstructure:"RECOVERY_MAX_NEGATIVE_BALANCE"`
	RecoveryMaxDailyCap        string   `mapstructure:"RECOVERY_MAX_DAILY_CAP"`
	NHIAPharmacyShare          string   `mapstructure:"NHIA_PHARMACY_SHARE"`
	AuthSigningKey             string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer                 string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience               string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins                []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS               float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst             int      `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_LOCK_TIMEOUT",
	"DB_TX_RETRIES", "REDIS_URL", "RABBITMQ_URL", "OUTBOX_QUEUE", "OUTBOX_POLL_INTERVAL",
	"OUTBOX_BATCH_SIZE", "OUTBOX_WEBHOOK_URL", "OUTBOX_WEBHOOK_SECRET", "HOSPITAL_TIMEZONE", "ACCRUAL_RUN_AT", "RECOVERY_STRATEGY",
	"RECOVERY_BALANCE_THRESHOLD", "RECOVERY_MAX_NEGATIVE_BALANCE", "RECOVERY_MAX_DAILY_CAP",
	"NHIA_PHARMACY_SHARE", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_LOCK_TIMEOUT", "5s")
	v.SetDefault("DB_TX_RETRIES", 3)
	v.SetDefault("OUTBOX_QUEUE", "hms.notifications")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "2s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 50)
	v.SetDefault("HOSPITAL_TIMEZONE", "Africa/Lagos")
	v.SetDefault("ACCRUAL_RUN_AT", "00:00")
	v.SetDefault("RECOVERY_STRATEGY", string(inpatient.StrategyBalanceAware))
	v.SetDefault("RECOVERY_BALANCE_THRESHOLD", "1000")
	v.SetDefault("RECOVERY_MAX_NEGATIVE_BALANCE", "10000")
	v.SetDefault("NHIA_PHARMACY_SHARE", "0.10")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// InMemory reports whether the repositories live in process memory. Only
// development runs without DATABASE_URL.
func (c *Config) InMemory() bool {
	return c.DatabaseURL == "" && c.IsDev()
}

// Location loads HOSPITAL_TIMEZONE, the zone that decides calendar days.
func (c *Config) Location() (*time.Location, error) {
	return calendar.LoadLocation(c.HospitalTimezone)
}

// AccrualTime returns ACCRUAL_RUN_AT as hours and minutes past midnight.
func (c *Config) AccrualTime() (int, int, error) {
	t, err := time.Parse("15:04", c.AccrualRunAt)
	if err != nil {
		return 0, 0, fmt.Errorf("ACCRUAL_RUN_AT must be HH:MM, got %q", c.AccrualRunAt)
	}
	return t.Hour(), t.Minute(), nil
}

// Recovery builds the planner settings. An empty cap means no cap.
func (c *Config) Recovery() (inpatient.RecoveryConfig, error) {
	st, err := inpatient.ParseStrategy(c.RecoveryStrategy)
	if err != nil {
		return inpatient.RecoveryConfig{}, fmt.Errorf("RECOVERY_STRATEGY: %w", err)
	}
	cfg := inpatient.RecoveryConfig{Strategy: st}
	for _, f := range []struct {
		key string
		raw string
		dst *decimal.Decimal
	}{
		{"RECOVERY_BALANCE_THRESHOLD", c.RecoveryBalanceThreshold, &cfg.BalanceThreshold},
		{"RECOVERY_MAX_NEGATIVE_BALANCE", c.RecoveryMaxNegativeBalance, &cfg.MaxNegativeBalance},
		{"RECOVERY_MAX_DAILY_CAP", c.RecoveryMaxDailyCap, &cfg.MaxDailyCap},
	} {
		if f.raw == "" {
			*f.dst = decimal.Zero
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return inpatient.RecoveryConfig{}, fmt.Errorf("%s is not a number: %q", f.key, f.raw)
		}
		if v.IsNegative() {
			return inpatient.RecoveryConfig{}, fmt.Errorf("%s must not be negative", f.key)
		}
		*f.dst = v
	}
	return cfg, nil
}

// PharmacyShare parses NHIA_PHARMACY_SHARE, a fraction in [0, 1].
func (c *Config) PharmacyShare() (decimal.Decimal, error) {
	v, err := decimal.NewFromString(c.NHIAPharmacyShare)
	if err != nil {
		return decimal.Zero, fmt.Errorf("NHIA_PHARMACY_SHARE is not a number: %q", c.NHIAPharmacyShare)
	}
	if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("NHIA_PHARMACY_SHARE must be between 0 and 1, got %s", v)
	}
	return v, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a database and a token signing key are required.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("HOSPITAL_TIMEZONE: %w", err)
	}
	if _, _, err := c.AccrualTime(); err != nil {
		return err
	}
	if _, err := c.Recovery(); err != nil {
		return err
	}
	if _, err := c.PharmacyShare(); err != nil {
		return err
	}
	if c.DBTxRetries < 0 {
		return fmt.Errorf("DB_TX_RETRIES must not be negative")
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if c.OutboxWebhookURL != "" {
		u, err := url.Parse(c.OutboxWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("OUTBOX_WEBHOOK_URL must be an http or https url")
		}
	}
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when ENV=%q", c.Env)
		}
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
		}
	}
	return nil
}
