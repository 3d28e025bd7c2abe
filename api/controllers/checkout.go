package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/quote"
	"github.com/angelmondragon/storefront-backend/internal/shipping"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/money"
)

const maxPromoCodeLength = 64

// SessionBuilder opens a hosted checkout.
type SessionBuilder interface {
	BuildSession(ctx context.Context, req checkout.Request) (*checkout.Session, error)
}

// ShippingPricer is what checkout needs from the quote resolver to charge
// the amount that was quoted.
type ShippingPricer interface {
	QuoteResolver
	Lookup(ctx context.Context, mode shipping.Mode, postalCode string, items cart.Snapshot) (*quote.Quote, bool)
	Fallback(mode shipping.Mode) (*quote.Quote, bool)
}

type checkoutRequest struct {
	Cart         []cartItemPayload `json:"cart" validate:"dive"`
	ShippingMode string            `json:"shippingMode" validate:"required"`
	Zip          string            `json:"zip" validate:"max=20"`
	PromoCode    string            `json:"promoCode,omitempty" validate:"max=64"`
	QuotedAmount *int64            `json:"quotedAmount,omitempty"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// Checkout handles POST /checkout. Shipping is priced server side; the
// client's quotedAmount is only compared for diagnostics.
func Checkout(builder SessionBuilder, pricer ShippingPricer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if builder == nil || pricer == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		mode, err := parseMode(payload.ShippingMode)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		items, err := snapshotFrom(payload.Cart)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		req := checkout.Request{
			Cart:       items,
			Mode:       mode,
			PostalCode: payload.Zip,
			PromoCode:  validators.SanitizeString(payload.PromoCode, maxPromoCodeLength),
		}
		if !mode.IsPickup() && !items.Empty() {
			amount, err := chargeableShipping(ctx, pricer, logg, mode, payload.Zip, items)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			req.ShippingAmount = &amount
			if payload.QuotedAmount != nil && money.MinorUnits(*payload.QuotedAmount) != amount && logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{
					"quoted_amount":  *payload.QuotedAmount,
					"charged_amount": int64(amount),
					"shipping_mode":  mode.String(),
				}), "checkout.quoted_amount_mismatch", nil)
			}
		}

		sess, err := builder.BuildSession(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, checkoutResponse{URL: sess.RedirectURL})
	}
}

// chargeableShipping returns the cached quote when one exists, re-resolves on
// a miss and charges the flat table price when the destination has no
// carrier coverage.
func chargeableShipping(ctx context.Context, pricer ShippingPricer, logg *logger.Logger, mode shipping.Mode, zip string, items cart.Snapshot) (money.MinorUnits, error) {
	if q, ok := pricer.Lookup(ctx, mode, zip, items); ok {
		return q.AmountMinorUnits, nil
	}
	q, err := pricer.Resolve(ctx, mode, zip, items)
	if err == nil {
		return q.AmountMinorUnits, nil
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeNoCoverage) {
		return 0, err
	}
	fallback, ok := pricer.Fallback(mode)
	if !ok {
		return 0, err
	}
	if logg != nil {
		logg.Warn(logg.WithField(ctx, "shipping_mode", mode.String()), "checkout.shipping_table_price", err)
	}
	return fallback.AmountMinorUnits, nil
}
