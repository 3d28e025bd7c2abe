package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	signatureHeader = "Stripe-Signature"
	maxPayloadBytes = int64(65536)
)

type PaymentWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type PaymentWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type SigningSecretSource interface {
	SigningSecret() string
}

// PaymentWebhook handles POST /payment-webhook. Once the signature is valid
// the response is always 200 so the provider stops retrying; failed events
// are unmarked so a manual redelivery is processed again.
func PaymentWebhook(svc PaymentWebhookService, secrets SigningSecretSource, guard PaymentWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment webhook unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		secret := ""
		if secrets != nil {
			secret = secrets.SigningSecret()
		}
		sigHeader := r.Header.Get(signatureHeader)
		switch {
		case secret == "":
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "webhook signing secret not configured"))
			return
		case sigHeader == "":
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, secret)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "verify signature"))
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			// at-least-once: a guard outage must not drop paid orders
			if logg != nil {
				logg.Warn(ctx, "payment_webhook.guard_unavailable", err)
			}
		} else if alreadyProcessed {
			if logg != nil {
				logg.Info(ctx, "payment_webhook.duplicate_skipped")
			}
			responses.WriteReceived(w)
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if logg != nil {
				logg.Error(ctx, "payment_webhook.handle_failed", err)
			}
			if delErr := guard.Delete(ctx, event.ID); delErr != nil && logg != nil {
				logg.Warn(ctx, "payment_webhook.guard_release_failed", delErr)
			}
		}
		responses.WriteReceived(w)
	}
}
