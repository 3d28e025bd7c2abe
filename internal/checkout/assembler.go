// Package checkout assembles hosted payment sessions from a cart and a
// resolved shipping price.
package checkout

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/shipping"
	apperrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/money"
)

const (
	ShippingLineName = "Envío"

	MetadataShippingMode = "shipping_mode"
	MetadataPostalCode   = "postal_code"

	PaymentMethodCard = "card"
	PaymentMethodOXXO = "oxxo"

	successPath = "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
	cancelPath  = "/checkout/cancel"
)

// Gateway is the subset of the payment provider used to start a checkout.
type Gateway interface {
	CreateSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	// FindPromotionCode returns the id of an active promotion code, or "" when
	// the code does not exist.
	FindPromotionCode(ctx context.Context, code string) (string, error)
}

// Request is everything needed to open a session.
type Request struct {
	Cart       cart.Snapshot
	Mode       shipping.Mode
	PostalCode string
	// ShippingAmount is required for every mode except pickup.
	ShippingAmount *money.MinorUnits
	PromoCode      string
}

// Metadata is attached to the session and read back by the payment webhook.
type Metadata struct {
	ShippingMode shipping.Mode
	PostalCode   string
}

// Session is an opened hosted checkout.
type Session struct {
	ID          string
	RedirectURL string
	Metadata    Metadata
}

type Assembler struct {
	gateway Gateway
	baseURL *url.URL
	logg    *logger.Logger
}

// NewAssembler requires an absolute public base URL; relative image paths and
// the return URLs are resolved against it.
func NewAssembler(gateway Gateway, publicBaseURL string, logg *logger.Logger) (*Assembler, error) {
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	base, err := url.Parse(strings.TrimSpace(publicBaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("public base url must be absolute, got %q", publicBaseURL)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Assembler{gateway: gateway, baseURL: base, logg: logg}, nil
}

// BuildSession validates the request, builds the provider parameters and
// returns the redirect URL verbatim.
func (a *Assembler) BuildSession(ctx context.Context, req Request) (*Session, error) {
	params, meta, err := a.Params(req)
	if err != nil {
		return nil, err
	}

	if code := strings.TrimSpace(req.PromoCode); code != "" {
		id, err := a.gateway.FindPromotionCode(ctx, code)
		switch {
		case err != nil:
			a.logg.Warn(a.logg.WithField(ctx, "promo_code", code), "checkout.promo_lookup_failed", err)
		case id == "":
			a.logg.Warn(a.logg.WithField(ctx, "promo_code", code), "checkout.promo_code_unknown", nil)
		default:
			params.AllowPromotionCodes = nil
			params.Discounts = []*stripe.CheckoutSessionDiscountParams{{PromotionCode: stripe.String(id)}}
		}
	}

	sess, err := a.gateway.CreateSession(ctx, params)
	if err != nil {
		a.logg.Error(ctx, "checkout.session_create_failed", err)
		return nil, apperrors.Wrap(apperrors.CodeGateway, err, "could not start checkout")
	}
	if sess == nil || strings.TrimSpace(sess.URL) == "" {
		return nil, apperrors.New(apperrors.CodeGateway, "checkout session returned no redirect url")
	}

	return &Session{ID: sess.ID, RedirectURL: sess.URL, Metadata: meta}, nil
}

// Params builds the provider parameters without calling the gateway.
func (a *Assembler) Params(req Request) (*stripe.CheckoutSessionParams, Metadata, error) {
	if req.Cart.Empty() {
		return nil, Metadata{}, gatewayError("cart is empty")
	}
	if req.Mode == "" {
		return nil, Metadata{}, gatewayError("shipping mode is required")
	}

	lines := req.Cart.Items()
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(lines)+1)
	for i, item := range lines {
		if err := item.Validate(); err != nil {
			return nil, Metadata{}, apperrors.Wrap(apperrors.CodeGateway, err, fmt.Sprintf("cart line %d is invalid", i))
		}
		lineItems = append(lineItems, a.itemLine(item))
	}

	meta := Metadata{ShippingMode: req.Mode}
	if !req.Mode.IsPickup() {
		if req.ShippingAmount == nil {
			return nil, Metadata{}, gatewayError("shipping amount is required")
		}
		if *req.ShippingAmount < 0 {
			return nil, Metadata{}, gatewayError("shipping amount must not be negative")
		}
		meta.PostalCode = shipping.NormalizePostalCode(req.PostalCode)
		lineItems = append(lineItems, shippingLine(*req.ShippingAmount))
	}

	params := &stripe.CheckoutSessionParams{
		Mode:                stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:           lineItems,
		PaymentMethodTypes:  stripe.StringSlice(PaymentMethodsFor(req.Mode)),
		SuccessURL:          stripe.String(a.returnURL(successPath)),
		CancelURL:           stripe.String(a.returnURL(cancelPath)),
		AllowPromotionCodes: stripe.Bool(true),
		Locale:              stripe.String("es"),
	}
	if !req.Mode.IsPickup() {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice([]string{req.Mode.CountryCode()}),
		}
		params.PhoneNumberCollection = &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		}
	}
	params.AddMetadata(MetadataShippingMode, meta.ShippingMode.String())
	params.AddMetadata(MetadataPostalCode, meta.PostalCode)

	return params, meta, nil
}

// PaymentMethodsFor returns the payment methods offered for mode. Cash
// vouchers are only offered to domestic buyers.
func PaymentMethodsFor(mode shipping.Mode) []string {
	if mode.Domestic() {
		return []string{PaymentMethodCard, PaymentMethodOXXO}
	}
	return []string{PaymentMethodCard}
}

// LineItemName appends the size annotation shown on the hosted page.
func LineItemName(item cart.Item) string {
	name := strings.TrimSpace(item.Name)
	if size := strings.TrimSpace(item.Size); size != "" {
		return fmt.Sprintf("%s (Talla %s)", name, size)
	}
	return name
}

func (a *Assembler) itemLine(item cart.Item) *stripe.CheckoutSessionLineItemParams {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(LineItemName(item)),
	}
	if image := a.absolute(item.ImageRef); image != "" {
		product.Images = stripe.StringSlice([]string{image})
	}
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(strings.ToLower(money.Currency)),
			UnitAmount:  stripe.Int64(int64(item.UnitPriceMinorUnits)),
			ProductData: product,
		},
		Quantity: stripe.Int64(item.Quantity),
	}
}

func shippingLine(amount money.MinorUnits) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(money.Currency)),
			UnitAmount: stripe.Int64(int64(amount)),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(ShippingLineName),
			},
		},
		Quantity: stripe.Int64(1),
	}
}

// absolute resolves ref against the public base URL. Absolute http(s) refs
// are returned unchanged.
func (a *Assembler) absolute(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if parsed.IsAbs() {
		return ref
	}
	base := *a.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	parsed.Path = strings.TrimPrefix(parsed.Path, "/")
	return base.ResolveReference(parsed).String()
}

// returnURL keeps the session placeholder in successPath unescaped.
func (a *Assembler) returnURL(path string) string {
	return strings.TrimRight(a.baseURL.String(), "/") + path
}

func gatewayError(msg string) error {
	return apperrors.New(apperrors.CodeGateway, msg)
}
