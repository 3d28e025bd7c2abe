package checkout

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/promotioncode"

	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

type stripeGateway struct{}

// NewStripeGateway returns the live Gateway. The client must have been
// initialized so the package-level Stripe key and backend are set.
func NewStripeGateway(client *pkgstripe.Client) Gateway {
	if client == nil {
		return nil
	}
	return &stripeGateway{}
}

func (g *stripeGateway) CreateSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params != nil {
		params.Context = ctx
	}
	return session.New(params)
}

func (g *stripeGateway) FindPromotionCode(ctx context.Context, code string) (string, error) {
	params := &stripe.PromotionCodeListParams{
		Code:   stripe.String(strings.TrimSpace(code)),
		Active: stripe.Bool(true),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := promotioncode.List(params)
	for iter.Next() {
		if pc := iter.PromotionCode(); pc != nil && pc.ID != "" {
			return pc.ID, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", err
	}
	return "", nil
}
