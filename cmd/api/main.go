package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	"github.com/angelmondragon/storefront-backend/api/routes"
	"github.com/angelmondragon/storefront-backend/internal/assistant"
	"github.com/angelmondragon/storefront-backend/internal/carrier"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/quote"
	"github.com/angelmondragon/storefront-backend/internal/relay"
	"github.com/angelmondragon/storefront-backend/internal/shipping"
	paymentwebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/payment"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
	"github.com/angelmondragon/storefront-backend/pkg/telegram"
)

const (
	serviceName         = "api"
	paymentWebhookScope = "payment-webhook"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment", nil)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var (
		redisPinger      redis.Pinger
		quoteStore       quote.Store
		idempotencyStore redis.IdempotencyStore
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		store, err := quote.NewRedisStore(redisClient, cfg.Quote.CacheTTL)
		if err != nil {
			return err
		}
		redisPinger = redisClient
		quoteStore = store
		idempotencyStore = redisClient
	} else {
		logg.Warn(ctx, "redis not configured, using in-memory quote cache and idempotency store", nil)
		quoteStore = quote.NewMemoryStore(cfg.Quote.CacheTTL)
		idempotencyStore = paymentwebhook.NewMemoryStore()
	}

	origin, err := shipping.LoadOrigin(cfg.Carrier.OriginFile)
	if err != nil {
		return err
	}

	carrierClient := carrier.NewClient(cfg.Carrier, logg, carrier.WithMetrics(m))
	if !carrierClient.Enabled() {
		logg.Warn(ctx, "carrier api key not configured, quotes follow the fallback policy", nil)
	}
	resolver, err := quote.NewResolver(carrierClient, origin,
		quote.WithPolicy(cfg.Quote.FallbackPolicy),
		quote.WithStore(quoteStore),
		quote.WithLogger(logg),
		quote.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}
	assembler, err := checkout.NewAssembler(checkout.NewStripeGateway(stripeClient), cfg.App.PublicBaseURL, logg)
	if err != nil {
		return err
	}

	queue := relay.NewQueue(relay.OptionsFromConfig(cfg.Relay, cfg.Notify), logg, m)
	relayParams := relay.Params{
		Queue:        queue,
		Webhook:      relay.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.Timeout, nil),
		Origin:       origin,
		Logger:       logg,
		LabelTimeout: relay.LabelTimeout(cfg.Carrier.Timeout, cfg.Notify.Timeout),
	}
	if cfg.Telegram.Enabled() {
		bot, err := telegram.NewClient(cfg.Telegram)
		if err != nil {
			return err
		}
		relayParams.Notifier = bot
	}
	if carrierClient.Enabled() {
		relayParams.Labels = carrierClient
	}
	orders, err := relay.New(relayParams)
	if err != nil {
		return err
	}

	webhookService, err := paymentwebhook.NewService(paymentwebhook.ServiceParams{Relay: orders, Logger: logg, Metrics: m})
	if err != nil {
		return err
	}
	guard, err := paymentwebhook.NewIdempotencyGuard(idempotencyStore, cfg.Relay.IdempotencyTTL, paymentWebhookScope)
	if err != nil {
		return err
	}
	if stripeClient.SigningSecret() == "" {
		logg.Warn(ctx, "stripe webhook secret not configured, payment webhooks will be rejected", nil)
	}

	helper := assistant.New(cfg.OpenAI, logg)

	addr := ":" + cfg.App.Port
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:              cfg,
			Logger:              logg,
			Metrics:             m,
			Redis:               redisPinger,
			Quotes:              resolver,
			Checkout:            assembler,
			Assistant:           helper,
			PaymentWebhook:      webhookService,
			PaymentWebhookGuard: guard,
			SigningSecrets:      stripeClient,
			Shipments:           orders,
			PublishableKey:      stripeClient.PublishableKey(),
			Features: controllers.SiteFeatures{
				CarrierQuotes: carrierClient.Enabled(),
				Assistant:     helper.Enabled(),
			},
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"env":            cfg.App.Env,
			"addr":           addr,
			"stripe_env":     stripeClient.Environment(),
			"quote_policy":   cfg.Quote.FallbackPolicy,
			"redis_enabled":  redisPinger != nil,
			"carrier_quotes": carrierClient.Enabled(),
		}), "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logg.Info(context.Background(), "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		shutdownErr = err
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logg.Warn(shutdownCtx, "relay queue did not drain before deadline", err)
	}
	if failures := queue.FailureCount(); failures > 0 {
		logg.Warn(logg.WithField(context.Background(), "relay_failures", failures), "relay tasks failed during this run", nil)
	}
	return shutdownErr
}
