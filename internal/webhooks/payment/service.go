package paymentwebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/internal/relay"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

// OrderRelay receives paid orders.
type OrderRelay interface {
	OrderCompleted(ctx context.Context, evt relay.OrderCompletedEvent) int
}

type ServiceParams struct {
	Relay   OrderRelay
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Service turns verified payment events into relay work.
type Service struct {
	relay   OrderRelay
	logg    *logger.Logger
	metrics *metrics.Metrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Relay == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order relay required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{relay: params.Relay, logg: logg, metrics: params.Metrics}, nil
}

// Handles reports whether the event type triggers order processing. OXXO
// vouchers complete the session unpaid and confirm later with
// async_payment_succeeded.
func Handles(eventType stripe.EventType) bool {
	switch eventType {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return true
	default:
		return false
	}
}

// HandleEvent processes a verified event. Unhandled types are ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
	if !Handles(event.Type) {
		s.metrics.IncWebhook("payment", "ignored")
		s.logg.Debug(ctx, "payment_webhook.event_ignored")
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}
	if event.Type == stripe.EventTypeCheckoutSessionCompleted &&
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		// voucher issued but not paid yet; async_payment_succeeded follows
		s.metrics.IncWebhook("payment", "awaiting_payment")
		s.logg.Info(ctx, "payment_webhook.awaiting_async_payment")
		return nil
	}

	evt, err := relay.FromCheckoutSession(&sess)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "extract order")
	}
	accepted := s.relay.OrderCompleted(ctx, evt)
	s.metrics.IncWebhook("payment", "processed")
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":       evt.OrderID,
		"tasks_accepted": accepted,
	}), "payment_webhook.order_relayed")
	return nil
}
