// Package quote turns a cart and destination into a single shipping price.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/storefront-backend/internal/carrier"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/shipping"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	apperrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/money"
	"github.com/angelmondragon/storefront-backend/pkg/upstream"
)

const (
	PickupCarrier = "Pickup"
	PickupETA     = "Immediate"
	DefaultETA    = "3-7 days"

	// SourcePickup marks quotes that never needed a carrier.
	SourcePickup upstream.Source = "pickup"
	// SourceCache marks quotes served from the quote store.
	SourceCache upstream.Source = "cache"
)

// Quote is the price shown to the buyer and later charged at checkout.
type Quote struct {
	AmountMinorUnits money.MinorUnits `json:"amount"`
	Carrier          string           `json:"carrier"`
	ETA              string           `json:"eta"`
	Source           upstream.Source  `json:"source"`
}

// RateSource is the carrier dependency of the resolver.
type RateSource interface {
	Quote(ctx context.Context, req carrier.RateRequest) ([]carrier.Rate, error)
}

// Resolver implements the quote algorithm.
type Resolver struct {
	rates   RateSource
	origin  *shipping.Origin
	policy  string
	store   Store
	logg    *logger.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithPolicy selects what happens when no carrier rate is available:
// config.QuotePolicyFail or config.QuotePolicyTable.
func WithPolicy(policy string) Option {
	return func(r *Resolver) {
		r.policy = strings.ToLower(strings.TrimSpace(policy))
	}
}

// WithStore remembers resolved quotes so checkout can charge the exact amount.
func WithStore(store Store) Option {
	return func(r *Resolver) {
		if store != nil {
			r.store = store
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(r *Resolver) {
		if logg != nil {
			r.logg = logg
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver wires a resolver. rates and origin are required.
func NewResolver(rates RateSource, origin *shipping.Origin, opts ...Option) (*Resolver, error) {
	if rates == nil {
		return nil, fmt.Errorf("rate source required")
	}
	if origin == nil {
		return nil, fmt.Errorf("origin required")
	}
	r := &Resolver{
		rates:  rates,
		origin: origin,
		policy: config.QuotePolicyFail,
		logg:   logger.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.policy != config.QuotePolicyFail && r.policy != config.QuotePolicyTable {
		return nil, fmt.Errorf("unknown quote fallback policy %q", r.policy)
	}
	return r, nil
}

// Resolve prices shipping for items going to postalCode under mode.
func (r *Resolver) Resolve(ctx context.Context, mode shipping.Mode, postalCode string, items cart.Snapshot) (*Quote, error) {
	if items.Empty() {
		return nil, apperrors.New(apperrors.CodeValidation, "cart is empty")
	}
	if mode.IsPickup() {
		r.metrics.IncQuote(mode.String(), string(SourcePickup))
		return pickupQuote(), nil
	}

	dest := shipping.NewDestination(mode, postalCode)
	if !dest.Valid() {
		return nil, apperrors.New(apperrors.CodeValidation, "postal code is required")
	}

	key := Key{Mode: mode, PostalCode: dest.PostalCode, Fingerprint: items.Fingerprint()}
	// The shared call outlives any single caller; the carrier client bounds it
	// with its own timeout.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key.String(), func() (any, error) {
		return r.resolve(shared, mode, dest, items, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		q := *(res.Val.(*Quote))
		return &q, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) resolve(ctx context.Context, mode shipping.Mode, dest shipping.Destination, items cart.Snapshot, key Key) (*Quote, error) {
	rates, err := r.rates.Quote(ctx, carrier.RateRequest{
		Origin:      r.origin.Facility,
		Destination: dest,
		Packages:    BuildPackages(r.origin.Package, items),
	})
	if err != nil && ctx.Err() != nil {
		// a canceled lookup says nothing about coverage
		return nil, ctx.Err()
	}
	var cheapest *Quote
	if err == nil {
		if cheapest = selectCheapest(rates); cheapest == nil {
			err = upstream.Unavailable("carrier", errors.New("no usable rates"))
		}
	}

	result := upstream.Resolve(cheapest, err, r.policyFor(mode))
	if result.Err != nil {
		r.metrics.IncQuote(mode.String(), string(upstream.SourceFailed))
		if result.Cause != nil {
			r.logg.Warn(r.logCtx(ctx, key), "quote.no_coverage", result.Cause)
		}
		return nil, result.Err
	}
	if result.Degraded() {
		r.logg.Warn(r.logCtx(ctx, key), "quote.fallback_rate_used", result.Cause)
	}

	q := result.Value
	q.Source = result.Source
	r.metrics.IncQuote(mode.String(), string(q.Source))

	if r.store != nil {
		if err := r.store.Put(ctx, key, *q); err != nil {
			r.logg.Warn(r.logCtx(ctx, key), "quote.store_put_failed", err)
		}
	}
	return q, nil
}

// Lookup returns the quote remembered for this exact cart and destination, if
// any. Store failures count as a miss.
func (r *Resolver) Lookup(ctx context.Context, mode shipping.Mode, postalCode string, items cart.Snapshot) (*Quote, bool) {
	if items.Empty() {
		return nil, false
	}
	if mode.IsPickup() {
		return pickupQuote(), true
	}
	if r.store == nil {
		return nil, false
	}
	dest := shipping.NewDestination(mode, postalCode)
	if !dest.Valid() {
		return nil, false
	}
	key := Key{Mode: mode, PostalCode: dest.PostalCode, Fingerprint: items.Fingerprint()}
	q, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logg.Warn(r.logCtx(ctx, key), "quote.store_get_failed", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	q.Source = SourceCache
	return q, true
}

// Fallback returns the flat table rate for mode regardless of the configured
// policy. Checkout uses it when a destination cannot be quoted.
func (r *Resolver) Fallback(mode shipping.Mode) (*Quote, bool) {
	if mode.IsPickup() {
		return pickupQuote(), true
	}
	rate, ok := r.origin.FallbackFor(mode)
	if !ok {
		return nil, false
	}
	return flatQuote(rate), true
}

func (r *Resolver) policyFor(mode shipping.Mode) upstream.Policy[*Quote] {
	noCoverage := func(cause error) error {
		return apperrors.Wrap(apperrors.CodeNoCoverage, cause, "cannot quote this destination")
	}
	if r.policy != config.QuotePolicyTable {
		return upstream.FailWith[*Quote](noCoverage)
	}
	rate, ok := r.origin.FallbackFor(mode)
	if !ok {
		return upstream.FailWith[*Quote](noCoverage)
	}
	return upstream.FallbackTo(func() *Quote { return flatQuote(rate) })
}

func (r *Resolver) logCtx(ctx context.Context, key Key) context.Context {
	return r.logg.WithFields(ctx, map[string]any{
		"shipping_mode": key.Mode.String(),
		"postal_code":   key.PostalCode,
	})
}

// BuildPackages creates one standard parcel per distinct cart line.
func BuildPackages(std shipping.StandardPackage, items cart.Snapshot) []carrier.Package {
	lines := items.Items()
	pkgs := make([]carrier.Package, 0, len(lines))
	for _, item := range lines {
		weight := std.WeightPerUnitKg * float64(item.Quantity)
		if weight < std.MinWeightKg {
			weight = std.MinWeightKg
		}
		pkgs = append(pkgs, carrier.Package{
			Content:  std.Content,
			Quantity: 1,
			Type:     std.Type,
			Dimensions: carrier.Dimensions{
				LengthCm: std.LengthCm,
				WidthCm:  std.WidthCm,
				HeightCm: std.HeightCm,
			},
			WeightKg:                weight,
			DeclaredValueMinorUnits: item.LineTotal(),
		})
	}
	return pkgs
}

// selectCheapest keeps the first of equally priced rates.
func selectCheapest(rates []carrier.Rate) *Quote {
	best := -1
	for i, rate := range rates {
		if rate.TotalAmountMinorUnits < 0 {
			continue
		}
		if best < 0 || rate.TotalAmountMinorUnits < rates[best].TotalAmountMinorUnits {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	eta := DefaultETA
	if est := rates[best].DeliveryEstimate; est != nil && strings.TrimSpace(*est) != "" {
		eta = *est
	}
	return &Quote{
		AmountMinorUnits: rates[best].TotalAmountMinorUnits,
		Carrier:          rates[best].CarrierName,
		ETA:              eta,
	}
}

func pickupQuote() *Quote {
	return &Quote{Carrier: PickupCarrier, ETA: PickupETA, Source: SourcePickup}
}

func flatQuote(rate shipping.FlatRate) *Quote {
	eta := rate.ETA
	if eta == "" {
		eta = DefaultETA
	}
	return &Quote{
		AmountMinorUnits: money.MinorUnits(rate.Amount),
		Carrier:          rate.Carrier,
		ETA:              eta,
		Source:           upstream.SourceFallback,
	}
}
