package config // package config loads application configuration from environment variables

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends selectable with STORAGE.
const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable named by its mapstructure tag.
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	Port     string `mapstructure:"APP_PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Storage  string `mapstructure:"STORAGE"`

	DBUser string `mapstructure:"DB_USER"`
	DBPass string `mapstructure:"DB_PASS"`
	DBHost string `mapstructure:"DB_HOST"`
	DBPort string `mapstructure:"DB_PORT"`
	DBName string `mapstructure:"DB_NAME"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	AccessTTLMin   int    `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTTLDays int    `mapstructure:"REFRESH_TOKEN_TTL_DAYS"`
	BcryptCost     int    `mapstructure:"BCRYPT_COST"`
	AdminEmail     string `mapstructure:"ADMIN_EMAIL"`
	AdminPassword  string `mapstructure:"ADMIN_PASSWORD"`

	// Inventory and booking policy.
	HoldTTL            time.Duration `mapstructure:"HOLD_TTL"`
	CancellationWindow time.Duration `mapstructure:"CANCELLATION_WINDOW"`
	RentalPeriod       time.Duration `mapstructure:"RENTAL_PERIOD"`
	DefaultCurrency    string        `mapstructure:"DEFAULT_CURRENCY"`

	// Ledger policy.
	WalletHoldPeriod     time.Duration `mapstructure:"WALLET_HOLD_PERIOD"`
	PlatformFeeRate      string        `mapstructure:"PLATFORM_FEE_RATE"`
	MinWithdrawalMinor   int64         `mapstructure:"MIN_WITHDRAWAL_MINOR"`
	PlatformAccountOwner string        `mapstructure:"PLATFORM_ACCOUNT_OWNER"`

	// Background jobs.
	SweepSchedule   string `mapstructure:"SWEEP_SCHEDULE"`
	ReleaseSchedule string `mapstructure:"RELEASE_SCHEDULE"`
	SweepBatch      int    `mapstructure:"SWEEP_BATCH"`

	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	PayoutBaseURL string        `mapstructure:"PAYOUT_BASE_URL"`
	PayoutAPIKey  string        `mapstructure:"PAYOUT_API_KEY"`
	PayoutTimeout time.Duration `mapstructure:"PAYOUT_TIMEOUT"`

	// Processing withdrawals idle for PayoutRetryAfter are resubmitted and
	// the ones older than PayoutFailAfter are failed.
	PayoutRetrySchedule string        `mapstructure:"PAYOUT_RETRY_SCHEDULE"`
	PayoutRetryAfter    time.Duration `mapstructure:"PAYOUT_RETRY_AFTER"`
	PayoutFailAfter     time.Duration `mapstructure:"PAYOUT_FAIL_AFTER"`

	RazorpayWebhookSecret string        `mapstructure:"RAZORPAY_WEBHOOK_SECRET"`
	CashfreeWebhookSecret string        `mapstructure:"CASHFREE_WEBHOOK_SECRET"`
	GenericWebhookSecret  string        `mapstructure:"GENERIC_WEBHOOK_SECRET"`
	WebhookDedupeTTL      time.Duration `mapstructure:"WEBHOOK_DEDUPE_TTL"`

	Redis     RedisConfig     `mapstructure:"-"`
	RateLimit RateLimitConfig `mapstructure:"-"`
	Cache     CacheConfig     `mapstructure:"-"`
}

var defaults = map[string]any{
	"APP_ENV":                 "dev",
	"APP_PORT":                "8080",
	"LOG_LEVEL":               "info",
	"STORAGE":                 StorageMySQL,
	"DB_USER":                 "",
	"DB_PASS":                 "",
	"DB_HOST":                 "127.0.0.1",
	"DB_PORT":                 "3306",
	"DB_NAME":                 "boxoffice",
	"JWT_SECRET":              "",
	"ACCESS_TOKEN_TTL_MIN":    15,
	"REFRESH_TOKEN_TTL_DAYS":  7,
	"BCRYPT_COST":             12,
	"ADMIN_EMAIL":             "",
	"ADMIN_PASSWORD":          "",
	"HOLD_TTL":                "10m",
	"CANCELLATION_WINDOW":     "24h",
	"RENTAL_PERIOD":           "48h",
	"DEFAULT_CURRENCY":        "INR",
	"WALLET_HOLD_PERIOD":      "168h",
	"PLATFORM_FEE_RATE":       "0.10",
	"MIN_WITHDRAWAL_MINOR":    100,
	"PLATFORM_ACCOUNT_OWNER":  "platform",
	"SWEEP_SCHEDULE":          "@every 30s",
	"RELEASE_SCHEDULE":        "@every 5m",
	"SWEEP_BATCH":             200,
	"RABBITMQ_URL":            "",
	"PAYOUT_BASE_URL":         "",
	"PAYOUT_API_KEY":          "",
	"PAYOUT_TIMEOUT":          "10s",
	"PAYOUT_RETRY_SCHEDULE":   "@every 5m",
	"PAYOUT_RETRY_AFTER":      "10m",
	"PAYOUT_FAIL_AFTER":       "72h",
	"RAZORPAY_WEBHOOK_SECRET": "",
	"CASHFREE_WEBHOOK_SECRET": "",
	"GENERIC_WEBHOOK_SECRET":  "",
	"WEBHOOK_DEDUPE_TTL":      "24h",
}

// Load reads configuration from environment variables. Unset keys fall back
// to defaults; required keys for the selected storage backend are enforced.
func Load() (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	cfg.Redis = loadRedisConfig(v)
	cfg.RateLimit = loadRateLimitConfig(v)
	cfg.Cache = loadCacheConfig(v)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	switch c.Storage {
	case StorageMySQL:
		if c.DBUser == "" {
			missing = append(missing, "DB_USER")
		}
		if c.DBName == "" {
			missing = append(missing, "DB_NAME")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("invalid STORAGE %q: want %s or %s", c.Storage, StorageMySQL, StorageMemory)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env var: %s", strings.Join(missing, ", "))
	}
	if c.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive")
	}
	if c.SweepBatch < 1 {
		return fmt.Errorf("SWEEP_BATCH must be at least 1")
	}
	return nil
}

// AccessTTL is the access token lifetime.
func (c Config) AccessTTL() time.Duration { return time.Duration(c.AccessTTLMin) * time.Minute }

// RefreshTTL is the refresh token lifetime.
func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

// IsProd reports whether the process runs with APP_ENV=prod.
func (c Config) IsProd() bool { return strings.EqualFold(c.Env, "prod") }
