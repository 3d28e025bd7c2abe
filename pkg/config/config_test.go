package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "production" {
		t.Fatalf("expected App.Env to be production, got %q", cfg.App.Env)
	}
	if cfg.App.Port != "8081" {
		t.Fatalf("unexpected port %q", cfg.App.Port)
	}
	if cfg.Quote.FallbackPolicy != QuotePolicyFail {
		t.Fatalf("expected default fallback policy, got %q", cfg.Quote.FallbackPolicy)
	}
	if got := cfg.Quote.CacheTTL; got != 30*time.Minute {
		t.Fatalf("expected quote ttl 30m, got %v", got)
	}
	if got := cfg.Carrier.Timeout; got != 8*time.Second {
		t.Fatalf("expected carrier timeout 8s, got %v", got)
	}
	if got := cfg.Relay.IdempotencyTTL; got != 72*time.Hour {
		t.Fatalf("expected idempotency ttl 72h, got %v", got)
	}
	if len(cfg.Carrier.Carriers) != 2 || cfg.Carrier.Carriers[0] != "fedex" {
		t.Fatalf("unexpected default carriers %v", cfg.Carrier.Carriers)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis must be disabled without url or address")
	}
	if cfg.Telegram.Enabled() {
		t.Fatalf("telegram must be disabled without credentials")
	}
	if cfg.RateLimit.TrustedProxies != 0 {
		t.Fatalf("forwarding headers must be untrusted by default, got %d proxies", cfg.RateLimit.TrustedProxies)
	}
}

func TestLoad_OptionalIntegrations(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	t.Setenv("STOREFRONT_TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("STOREFRONT_TELEGRAM_CHAT_ID", "-100")
	t.Setenv(EnvQuoteFallbackPolicy, QuotePolicyTable)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if !cfg.Redis.Enabled() || !cfg.Telegram.Enabled() {
		t.Fatalf("expected redis and telegram enabled")
	}
	if cfg.Quote.FallbackPolicy != QuotePolicyTable {
		t.Fatalf("unexpected policy %q", cfg.Quote.FallbackPolicy)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	if err := os.Unsetenv(EnvAppEnv); err != nil {
		t.Fatalf("failed to unset %s: %v", EnvAppEnv, err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing required env to return an error")
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		EnvPublicBaseURL:           "/relative",
		EnvQuoteFallbackPolicy:     "guess",
		EnvCarrierMarkupPercent:    "-1",
		EnvRateLimitTrustedProxies: "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setMinimalEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%q to be rejected", key, value)
			}
		})
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvPort, "8081")
	t.Setenv(EnvPublicBaseURL, "https://tienda.example")
	t.Setenv(EnvStripeSecretKey, "sk_test_123")
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() {
		t.Fatalf("expected IsDev true for %q", devConfig.Env)
	}
	if devConfig.IsProd() {
		t.Fatalf("expected IsProd false for %q", devConfig.Env)
	}

	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() {
		t.Fatalf("expected IsProd true for %q", prodConfig.Env)
	}
}

func TestStripeEnvironmentDefaults(t *testing.T) {
	if got := (StripeConfig{}).Environment(); got != "test" {
		t.Fatalf("expected test, got %q", got)
	}
	if got := (StripeConfig{Env: " LIVE "}).Environment(); got != "live" {
		t.Fatalf("expected live, got %q", got)
	}
}
