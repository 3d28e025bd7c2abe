package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	QuotePolicyFail  = "fail"
	QuotePolicyTable = "table"

	EnvAppEnv               = "STOREFRONT_APP_ENV"
	EnvPort                 = "STOREFRONT_APP_PORT"
	EnvPublicBaseURL        = "STOREFRONT_PUBLIC_BASE_URL"
	EnvStripeSecretKey      = "STOREFRONT_STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret  = "STOREFRONT_STRIPE_WEBHOOK_SECRET"
	EnvCarrierAPIKey        = "STOREFRONT_CARRIER_API_KEY"
	EnvCarrierMarkupPercent = "STOREFRONT_CARRIER_MARKUP_PERCENT"
	EnvQuoteFallbackPolicy  = "STOREFRONT_QUOTE_FALLBACK_POLICY"
	EnvRedisURL             = "STOREFRONT_REDIS_URL"

	EnvRateLimitTrustedProxies = "STOREFRONT_RATE_LIMIT_TRUSTED_PROXIES"
)
