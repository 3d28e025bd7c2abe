package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Redis     RedisConfig
	Stripe    StripeConfig
	Carrier   CarrierConfig
	Quote     QuoteConfig
	Notify    NotifyConfig
	Telegram  TelegramConfig
	OpenAI    OpenAIConfig
	RateLimit RateLimitConfig
	Relay     RelayConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env             string        `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port            string        `envconfig:"STOREFRONT_APP_PORT" default:"8080"`
	LogLevel        string        `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
	LogWarnStack    bool          `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	PublicBaseURL   string        `envconfig:"STOREFRONT_PUBLIC_BASE_URL" required:"true"`
	ShutdownTimeout time.Duration `envconfig:"STOREFRONT_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type HTTPConfig struct {
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_HTTP_WRITE_TIMEOUT" default:"30s"`
	CORSOrigins  []string      `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
}

// RedisConfig is optional; without a URL or address the API falls back to
// in-process stores for idempotency and quote caching.
type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"3s"`
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type StripeConfig struct {
	SecretKey      string        `envconfig:"STOREFRONT_STRIPE_SECRET_KEY" required:"true"`
	PublishableKey string        `envconfig:"STOREFRONT_STRIPE_PUBLISHABLE_KEY"`
	WebhookSecret  string        `envconfig:"STOREFRONT_STRIPE_WEBHOOK_SECRET"`
	Env            string        `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
	Timeout        time.Duration `envconfig:"STOREFRONT_STRIPE_TIMEOUT" default:"10s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CarrierConfig struct {
	APIKey          string        `envconfig:"STOREFRONT_CARRIER_API_KEY"`
	BaseURL         string        `envconfig:"STOREFRONT_CARRIER_BASE_URL" default:"https://api.envia.com"`
	Carriers        []string      `envconfig:"STOREFRONT_CARRIER_NAMES" default:"fedex,dhl"`
	LabelService    string        `envconfig:"STOREFRONT_CARRIER_LABEL_SERVICE" default:"ground"`
	Timeout         time.Duration `envconfig:"STOREFRONT_CARRIER_TIMEOUT" default:"8s"`
	MarkupPercent   int64         `envconfig:"STOREFRONT_CARRIER_MARKUP_PERCENT" default:"5"`
	BreakerFailures uint32        `envconfig:"STOREFRONT_CARRIER_BREAKER_FAILURES" default:"5"`
	BreakerCooldown time.Duration `envconfig:"STOREFRONT_CARRIER_BREAKER_COOLDOWN" default:"30s"`
	OriginFile      string        `envconfig:"STOREFRONT_ORIGIN_FILE"`
}

type QuoteConfig struct {
	FallbackPolicy string        `envconfig:"STOREFRONT_QUOTE_FALLBACK_POLICY" default:"fail"`
	CacheTTL       time.Duration `envconfig:"STOREFRONT_QUOTE_TTL" default:"30m"`
}

type NotifyConfig struct {
	WebhookURL string        `envconfig:"STOREFRONT_NOTIFY_WEBHOOK_URL"`
	Timeout    time.Duration `envconfig:"STOREFRONT_NOTIFY_TIMEOUT" default:"5s"`
}

type TelegramConfig struct {
	BotToken string `envconfig:"STOREFRONT_TELEGRAM_BOT_TOKEN"`
	ChatID   string `envconfig:"STOREFRONT_TELEGRAM_CHAT_ID"`
	BaseURL  string `envconfig:"STOREFRONT_TELEGRAM_BASE_URL" default:"https://api.telegram.org"`
}

func (t TelegramConfig) Enabled() bool {
	return strings.TrimSpace(t.BotToken) != "" && strings.TrimSpace(t.ChatID) != ""
}

type OpenAIConfig struct {
	APIKey  string        `envconfig:"STOREFRONT_OPENAI_API_KEY"`
	BaseURL string        `envconfig:"STOREFRONT_OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	Model   string        `envconfig:"STOREFRONT_OPENAI_MODEL" default:"gpt-4o-mini"`
	Timeout time.Duration `envconfig:"STOREFRONT_OPENAI_TIMEOUT" default:"10s"`
}

// RateLimitConfig throttles public POSTs per client address. TrustedProxies
// is the number of reverse proxies in front of the API; forwarding headers
// are ignored when it is zero.
type RateLimitConfig struct {
	RequestsPerSecond float64       `envconfig:"STOREFRONT_RATE_LIMIT_RPS" default:"5"`
	Burst             int           `envconfig:"STOREFRONT_RATE_LIMIT_BURST" default:"10"`
	IdleTTL           time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_IDLE_TTL" default:"10m"`
	TrustedProxies    int           `envconfig:"STOREFRONT_RATE_LIMIT_TRUSTED_PROXIES" default:"0"`
}

type RelayConfig struct {
	Workers        int           `envconfig:"STOREFRONT_RELAY_WORKERS" default:"2"`
	QueueSize      int           `envconfig:"STOREFRONT_RELAY_QUEUE_SIZE" default:"64"`
	FailureLogSize int           `envconfig:"STOREFRONT_RELAY_FAILURE_LOG_SIZE" default:"50"`
	IdempotencyTTL time.Duration `envconfig:"STOREFRONT_RELAY_IDEMPOTENCY_TTL" default:"72h"`
}

func (c *Config) validate() error {
	base, err := url.Parse(strings.TrimSpace(c.App.PublicBaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("%s must be an absolute url", EnvPublicBaseURL)
	}
	switch strings.ToLower(strings.TrimSpace(c.Quote.FallbackPolicy)) {
	case QuotePolicyFail, QuotePolicyTable:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvQuoteFallbackPolicy, QuotePolicyFail, QuotePolicyTable)
	}
	if c.RateLimit.TrustedProxies < 0 {
		return fmt.Errorf("%s must be non-negative", EnvRateLimitTrustedProxies)
	}
	if c.Carrier.MarkupPercent < 0 {
		return fmt.Errorf("%s must be non-negative", EnvCarrierMarkupPercent)
	}
	return nil
}
