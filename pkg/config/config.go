package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "GUMROAD"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Stripe   StripeConfig
	Paypal   PaypalConfig
	Rates    RatesConfig
	Checkout CheckoutConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GUMROAD_APP_ENV" required:"true"`
	Port         string `envconfig:"GUMROAD_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GUMROAD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GUMROAD_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"GUMROAD_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"GUMROAD_DB_DSN" required:"true"`

	MaxOpenConns    int           `envconfig:"GUMROAD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GUMROAD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GUMROAD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GUMROAD_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"GUMROAD_DB_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GUMROAD_REDIS_URL" required:"true"`
	DB           int           `envconfig:"GUMROAD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GUMROAD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GUMROAD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GUMROAD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GUMROAD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GUMROAD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"GUMROAD_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"GUMROAD_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"GUMROAD_STRIPE_ENV" default:"test"`
	// TTL for the webhook delivery fence; Stripe retries for up to 3 days.
	WebhookEventTTL time.Duration `envconfig:"GUMROAD_STRIPE_WEBHOOK_EVENT_TTL" default:"72h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PaypalConfig struct {
	BaseURL      string        `envconfig:"GUMROAD_PAYPAL_BASE_URL" default:"https://api-m.sandbox.paypal.com"`
	ClientID     string        `envconfig:"GUMROAD_PAYPAL_CLIENT_ID"`
	ClientSecret string        `envconfig:"GUMROAD_PAYPAL_CLIENT_SECRET"`
	Timeout      time.Duration `envconfig:"GUMROAD_PAYPAL_TIMEOUT" default:"15s"`
}

type RatesConfig struct {
	SourceURL string        `envconfig:"GUMROAD_RATES_SOURCE_URL" default:"https://api.exchangerate.host/latest?base=USD"`
	CacheTTL  time.Duration `envconfig:"GUMROAD_RATES_CACHE_TTL" default:"1h"`
	Timeout   time.Duration `envconfig:"GUMROAD_RATES_TIMEOUT" default:"5s"`
}

type CheckoutConfig struct {
	// Window inside which a repeated browser guid is treated as an
	// accidental double submit unless the purchase is a plan upgrade.
	DoubleChargeWindow time.Duration `envconfig:"GUMROAD_CHECKOUT_DOUBLE_CHARGE_WINDOW" default:"5m"`
	// Allowed drift between the client-asserted price and the
	// server-computed price, in cents.
	PriceToleranceCents int64 `envconfig:"GUMROAD_CHECKOUT_PRICE_TOLERANCE_CENTS" default:"1"`
	// TTL for recorded charge attempts keyed by order/seller/fingerprint.
	AttemptTTL time.Duration `envconfig:"GUMROAD_CHECKOUT_ATTEMPT_TTL" default:"24h"`
}
