package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"poseidon/pkg/errors"
)

type Config struct {
	App           AppConfig
	Backend       BackendConfig
	Rebalancer    RebalancerConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Telegram      TelegramConfig
	Metrics       MetricsConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"poseidon"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// BackendConfig describes the trading backend REST API that owns executors.
type BackendConfig struct {
	BaseURL        string        `envconfig:"BACKEND_BASE_URL" required:"true"`
	Username       string        `envconfig:"BACKEND_USERNAME" required:"true"`
	Password       string        `envconfig:"BACKEND_PASSWORD" required:"true"`
	AccountName    string        `envconfig:"BACKEND_ACCOUNT_NAME" default:"master_account"`
	RequestTimeout time.Duration `envconfig:"BACKEND_REQUEST_TIMEOUT" default:"15s"`

	// Global request budget shared by all orchestrators
	RequestsPerMinute int `envconfig:"BACKEND_REQUESTS_PER_MINUTE" default:"120"`
}

// RebalancerConfig carries the default control-loop parameters applied to
// every supervised position.
type RebalancerConfig struct {
	// Comma-separated executor ids to supervise on startup
	PositionIDs []string `envconfig:"REBALANCER_POSITION_IDS"`

	PollInterval     time.Duration `envconfig:"REBALANCER_POLL_INTERVAL" default:"10s"`
	RebalanceDelay   time.Duration `envconfig:"REBALANCER_DELAY" default:"60s"`
	ThresholdPct     string        `envconfig:"REBALANCER_THRESHOLD_PCT" default:"0.001"`
	WidthPct         string        `envconfig:"REBALANCER_WIDTH_PCT" default:"0.005"`
	WidthStepPct     string        `envconfig:"REBALANCER_WIDTH_STEP_PCT" default:"0"`
	BuyPriceMin      string        `envconfig:"REBALANCER_BUY_PRICE_MIN" default:""`
	BuyPriceMax      string        `envconfig:"REBALANCER_BUY_PRICE_MAX" default:""`
	SellPriceMin     string        `envconfig:"REBALANCER_SELL_PRICE_MIN" default:""`
	SellPriceMax     string        `envconfig:"REBALANCER_SELL_PRICE_MAX" default:""`
	ShutdownTimeout  time.Duration `envconfig:"REBALANCER_SHUTDOWN_TIMEOUT" default:"2m"`
	JournalSnapshots bool          `envconfig:"REBALANCER_JOURNAL_SNAPSHOTS" default:"true"`

	// Optional backend-enforced auto-close durations and strategy tag,
	// passed through verbatim on every replacement create
	CloseBelowAfter time.Duration `envconfig:"REBALANCER_CLOSE_BELOW_AFTER" default:"0"`
	CloseAboveAfter time.Duration `envconfig:"REBALANCER_CLOSE_ABOVE_AFTER" default:"0"`
	StrategyTag     string        `envconfig:"REBALANCER_STRATEGY_TAG" default:""`
}

type PostgresConfig struct {
	Enabled  bool   `envconfig:"POSTGRES_ENABLED" default:"false"`
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"poseidon"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:""`
	Database string `envconfig:"POSTGRES_DB" default:"poseidon"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`

	// TTL for published status snapshots
	StatusTTL time.Duration `envconfig:"REDIS_STATUS_TTL" default:"5m"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS"`
	Topic   string   `envconfig:"KAFKA_REBALANCER_TOPIC" default:"rebalancer.events"`
}

type TelegramConfig struct {
	Enabled  bool    `envconfig:"TELEGRAM_ENABLED" default:"false"`
	BotToken string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatIDs  []int64 `envconfig:"TELEGRAM_CHAT_IDS"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables.
// It first tries to load a .env file (useful for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that envconfig tags cannot express.
func (c *Config) Validate() error {
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "KAFKA_BROKERS required when kafka is enabled")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return errors.Wrap(errors.ErrInvalidInput, "TELEGRAM_BOT_TOKEN required when telegram is enabled")
	}

	for _, raw := range []string{
		c.Rebalancer.ThresholdPct, c.Rebalancer.WidthPct, c.Rebalancer.WidthStepPct,
		c.Rebalancer.BuyPriceMin, c.Rebalancer.BuyPriceMax,
		c.Rebalancer.SellPriceMin, c.Rebalancer.SellPriceMax,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := decimal.NewFromString(raw); err != nil {
			return errors.Wrapf(errors.ErrInvalidInput, "invalid decimal %q", raw)
		}
	}

	return nil
}

// Decimal parses a decimal config field, returning zero for empty input.
func Decimal(raw string) decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// OptionalDecimal parses a decimal config field, returning nil for empty input.
func OptionalDecimal(raw string) *decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}
