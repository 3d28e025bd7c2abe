package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

// Dependencies is everything the router hands to controllers.
type Dependencies struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// Redis is nil when the process runs on in-memory stores.
	Redis redis.Pinger

	Quotes    controllers.ShippingPricer
	Checkout  controllers.SessionBuilder
	Assistant controllers.Replier

	PaymentWebhook      webhookcontrollers.PaymentWebhookService
	PaymentWebhookGuard webhookcontrollers.PaymentWebhookGuard
	SigningSecrets      webhookcontrollers.SigningSecretSource
	Shipments           webhookcontrollers.ShipmentRelay

	PublishableKey string
	Features       controllers.SiteFeatures
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.Metrics),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Redis, logg))
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Get("/site-config", controllers.SiteConfig(deps.PublishableKey, deps.Features))

	limiter := middleware.NewIPRateLimiter(cfg.RateLimit)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter, logg))
		r.Post("/quote", controllers.Quote(deps.Quotes, logg))
		r.Post("/checkout", controllers.Checkout(deps.Checkout, deps.Quotes, logg))
		r.Post("/assistant", controllers.Assistant(deps.Assistant, logg))
	})

	r.Post("/payment-webhook", webhookcontrollers.PaymentWebhook(deps.PaymentWebhook, deps.SigningSecrets, deps.PaymentWebhookGuard, logg))
	r.Post("/carrier-webhook", webhookcontrollers.CarrierWebhook(deps.Shipments, logg))

	return r
}
