package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/quote"
	"github.com/angelmondragon/storefront-backend/internal/shipping"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/money"
)

// QuoteResolver prices shipping for a cart.
type QuoteResolver interface {
	Resolve(ctx context.Context, mode shipping.Mode, postalCode string, items cart.Snapshot) (*quote.Quote, error)
}

type quoteRequest struct {
	Mode  string            `json:"mode" validate:"required"`
	Zip   string            `json:"zip" validate:"max=20"`
	Items []cartItemPayload `json:"items" validate:"dive"`
}

type quoteResponse struct {
	Amount  money.MinorUnits `json:"amount"`
	Carrier string           `json:"carrier"`
	ETA     string           `json:"eta"`
}

// Quote handles POST /quote.
func Quote(resolver QuoteResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if resolver == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "quote resolver unavailable"))
			return
		}

		var payload quoteRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		mode, err := parseMode(payload.Mode)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		items, err := snapshotFrom(payload.Items)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		q, err := resolver.Resolve(ctx, mode, payload.Zip, items)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, quoteResponse{Amount: q.AmountMinorUnits, Carrier: q.Carrier, ETA: q.ETA})
	}
}
