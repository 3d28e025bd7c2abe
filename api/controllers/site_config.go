package controllers

import (
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/pkg/money"
)

// SiteFeatures tells the storefront which optional integrations are live.
type SiteFeatures struct {
	CarrierQuotes bool `json:"carrierQuotes"`
	Assistant     bool `json:"assistant"`
}

type siteConfigResponse struct {
	StripePublishableKey string       `json:"stripePublishableKey"`
	Currency             string       `json:"currency"`
	Features             SiteFeatures `json:"features"`
}

// SiteConfig handles GET /site-config. Only public values are exposed.
func SiteConfig(publishableKey string, features SiteFeatures) http.HandlerFunc {
	body := siteConfigResponse{
		StripePublishableKey: publishableKey,
		Currency:             money.Currency,
		Features:             features,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=300")
		responses.WriteSuccess(w, body)
	}
}
