package quote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/internal/carrier"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/shipping"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/money"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	"github.com/angelmondragon/storefront-backend/pkg/upstream"
)

type fakeRates struct {
	calls int32
	last  carrier.RateRequest
	rates []carrier.Rate
	err   error
	gate  chan struct{}
	enter chan struct{}

	// honorCtx makes a gated call give up when its context ends, the way the
	// carrier client does.
	honorCtx bool
}

func (f *fakeRates) Quote(ctx context.Context, req carrier.RateRequest) ([]carrier.Rate, error) {
	if atomic.AddInt32(&f.calls, 1) == 1 && f.enter != nil {
		close(f.enter)
	}
	if f.gate != nil {
		if f.honorCtx {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return nil, upstream.Unavailable("carrier", ctx.Err())
			}
		} else {
			<-f.gate
		}
	}
	f.last = req
	return f.rates, f.err
}

func strPtr(s string) *string { return &s }

func snapshot(t *testing.T, items ...cart.Item) cart.Snapshot {
	t.Helper()
	c, err := cart.New(items...)
	require.NoError(t, err)
	return c.Snapshot()
}

func oneShirt(t *testing.T) cart.Snapshot {
	return snapshot(t, cart.Item{Name: "Playera", UnitPriceMinorUnits: 29900, Size: "M", Quantity: 1})
}

func newResolver(t *testing.T, rates RateSource, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(rates, shipping.DefaultOrigin(), opts...)
	require.NoError(t, err)
	return r
}

func TestPickupNeverCallsCarrier(t *testing.T) {
	rates := &fakeRates{}
	r := newResolver(t, rates)

	q, err := r.Resolve(context.Background(), shipping.ModePickup, "", oneShirt(t))
	require.NoError(t, err)
	assert.Equal(t, money.MinorUnits(0), q.AmountMinorUnits)
	assert.Equal(t, "Pickup", q.Carrier)
	assert.Equal(t, "Immediate", q.ETA)
	assert.Zero(t, atomic.LoadInt32(&rates.calls))
}

func TestEmptyCartIsInvalidForEveryMode(t *testing.T) {
	for _, mode := range []shipping.Mode{shipping.ModePickup, shipping.ModeDomestic, shipping.ModeInternational} {
		t.Run(mode.String(), func(t *testing.T) {
			rates := &fakeRates{}
			_, err := newResolver(t, rates).Resolve(context.Background(), mode, "44100", cart.Snapshot{})
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			assert.Zero(t, atomic.LoadInt32(&rates.calls))
		})
	}
}

func TestPostalCodeWithoutDigitsIsInvalid(t *testing.T) {
	rates := &fakeRates{}
	_, err := newResolver(t, rates).Resolve(context.Background(), shipping.ModeDomestic, " abc-", oneShirt(t))
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	assert.Zero(t, atomic.LoadInt32(&rates.calls))
}

func TestResolvePicksCheapestAndKeepsItsCarrier(t *testing.T) {
	rates := &fakeRates{rates: []carrier.Rate{
		{TotalAmountMinorUnits: 200, CarrierName: "fedex", DeliveryEstimate: strPtr("1 day")},
		{TotalAmountMinorUnits: 150, CarrierName: "dhl", DeliveryEstimate: strPtr("2-3 days")},
		{TotalAmountMinorUnits: 150, CarrierName: "estafeta"},
	}}
	r := newResolver(t, rates)

	q, err := r.Resolve(context.Background(), shipping.ModeDomestic, "44 100", oneShirt(t))
	require.NoError(t, err)

	want := &Quote{AmountMinorUnits: 150, Carrier: "dhl", ETA: "2-3 days", Source: upstream.SourceLive}
	if diff := cmp.Diff(want, q); diff != "" {
		t.Fatalf("quote mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "44100", rates.last.Destination.PostalCode)
	assert.Equal(t, "MX", rates.last.Destination.CountryCode)
}

func TestResolveDefaultsMissingETA(t *testing.T) {
	rates := &fakeRates{rates: []carrier.Rate{{TotalAmountMinorUnits: 9900, CarrierName: "ups"}}}
	q, err := newResolver(t, rates).Resolve(context.Background(), shipping.ModeInternational, "90210", oneShirt(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultETA, q.ETA)
	assert.Equal(t, "US", rates.last.Destination.CountryCode)
}

func TestUnavailableCarrierUnderFailPolicy(t *testing.T) {
	cases := map[string]*fakeRates{
		"unavailable": {err: upstream.Unavailable("carrier", errors.New("boom"))},
		"no rates":    {},
	}
	for name, rates := range cases {
		t.Run(name, func(t *testing.T) {
			r := newResolver(t, rates, WithPolicy(config.QuotePolicyFail))
			q, err := r.Resolve(context.Background(), shipping.ModeDomestic, "44100", oneShirt(t))
			if !pkgerrors.HasCode(err, pkgerrors.CodeNoCoverage) {
				t.Fatalf("expected no coverage, got %v", err)
			}
			assert.Nil(t, q)
			assert.Equal(t, "cannot quote this destination", pkgerrors.As(err).Message())
		})
	}
}

func TestUnavailableCarrierUnderTablePolicy(t *testing.T) {
	rates := &fakeRates{err: upstream.Unavailable("carrier", errors.New("timeout"))}
	r := newResolver(t, rates, WithPolicy(config.QuotePolicyTable))

	q, err := r.Resolve(context.Background(), shipping.ModeDomestic, "44100", oneShirt(t))
	require.NoError(t, err)
	assert.Equal(t, money.MinorUnits(19900), q.AmountMinorUnits)
	assert.Equal(t, "Estándar", q.Carrier)
	assert.Equal(t, upstream.SourceFallback, q.Source)

	q, err = r.Resolve(context.Background(), shipping.ModeInternational, "90210", oneShirt(t))
	require.NoError(t, err)
	assert.Equal(t, money.MinorUnits(49900), q.AmountMinorUnits)
}

func TestNewResolverRejectsUnknownPolicy(t *testing.T) {
	_, err := NewResolver(&fakeRates{}, shipping.DefaultOrigin(), WithPolicy("guess"))
	require.Error(t, err)
}

func TestBuildPackagesOnePerLine(t *testing.T) {
	items := snapshot(t,
		cart.Item{Name: "Sudadera", UnitPriceMinorUnits: 59900, Size: "L", Quantity: 3},
		cart.Item{Name: "Gorra", UnitPriceMinorUnits: 25000, Quantity: 1},
	)
	pkgs := BuildPackages(shipping.DefaultOrigin().Package, items)

	require.Len(t, pkgs, 2)
	assert.Equal(t, 1.5, pkgs[0].WeightKg)
	assert.Equal(t, money.MinorUnits(179700), pkgs[0].DeclaredValueMinorUnits)
	assert.Equal(t, 1.0, pkgs[1].WeightKg)
	assert.Equal(t, "box", pkgs[1].Type)
	assert.Equal(t, 30.0, pkgs[1].Dimensions.LengthCm)
}

func TestConcurrentIdenticalRequestsShareOneCall(t *testing.T) {
	rates := &fakeRates{
		rates: []carrier.Rate{{TotalAmountMinorUnits: 15000, CarrierName: "fedex"}},
		gate:  make(chan struct{}),
		enter: make(chan struct{}),
	}
	r := newResolver(t, rates)
	items := oneShirt(t)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*Quote, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q, err := r.Resolve(context.Background(), shipping.ModeDomestic, "44100", items)
			if err == nil {
				results[i] = q
			}
		}(i)
	}

	<-rates.enter
	time.Sleep(50 * time.Millisecond)
	close(rates.gate)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&rates.calls))
	for _, q := range results {
		require.NotNil(t, q)
		assert.Equal(t, money.MinorUnits(15000), q.AmountMinorUnits)
	}
}

func TestCanceledCallerDoesNotDegradeSharedQuote(t *testing.T) {
	rates := &fakeRates{
		rates:    []carrier.Rate{{TotalAmountMinorUnits: 15000, CarrierName: "fedex", DeliveryEstimate: strPtr("2 days")}},
		gate:     make(chan struct{}),
		enter:    make(chan struct{}),
		honorCtx: true,
	}
	store := NewMemoryStore(0)
	r := newResolver(t, rates, WithPolicy(config.QuotePolicyTable), WithStore(store))
	items := oneShirt(t)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(leaderCtx, shipping.ModeDomestic, "44100", items)
		leaderErr <- err
	}()
	<-rates.enter

	type outcome struct {
		q   *Quote
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		q, err := r.Resolve(context.Background(), shipping.ModeDomestic, "44100", items)
		follower <- outcome{q, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	err := <-leaderErr
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, pkgerrors.HasCode(err, pkgerrors.CodeNoCoverage))

	close(rates.gate)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, money.MinorUnits(15000), got.q.AmountMinorUnits)
	assert.Equal(t, "fedex", got.q.Carrier)
	assert.Equal(t, upstream.SourceLive, got.q.Source)

	cached, ok := r.Lookup(context.Background(), shipping.ModeDomestic, "44100", items)
	require.True(t, ok)
	assert.Equal(t, money.MinorUnits(15000), cached.AmountMinorUnits)
}

func TestCanceledContextIsNotTreatedAsNoCoverage(t *testing.T) {
	rates := &fakeRates{err: upstream.Unavailable("carrier", context.Canceled)}
	store := NewMemoryStore(0)
	r := newResolver(t, rates, WithPolicy(config.QuotePolicyTable), WithStore(store))
	items := oneShirt(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.resolve(ctx, shipping.ModeDomestic, shipping.NewDestination(shipping.ModeDomestic, "44100"), items,
		Key{Mode: shipping.ModeDomestic, PostalCode: "44100", Fingerprint: items.Fingerprint()})
	require.ErrorIs(t, err, context.Canceled)

	_, ok := r.Lookup(context.Background(), shipping.ModeDomestic, "44100", items)
	assert.False(t, ok, "a canceled lookup must not cache the table price")
}

func TestQuoteThenLookupReturnsSameAmount(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, time.Minute)
	require.NoError(t, err)

	rates := &fakeRates{rates: []carrier.Rate{{TotalAmountMinorUnits: 15001, CarrierName: "fedex", DeliveryEstimate: strPtr("2 days")}}}
	r := newResolver(t, rates, WithStore(store))
	items := oneShirt(t)

	quoted, err := r.Resolve(context.Background(), shipping.ModeDomestic, "44100", items)
	require.NoError(t, err)

	cached, ok := r.Lookup(context.Background(), shipping.ModeDomestic, "44-100", items)
	require.True(t, ok)
	assert.Equal(t, quoted.AmountMinorUnits, cached.AmountMinorUnits)
	assert.Equal(t, quoted.Carrier, cached.Carrier)
	assert.Equal(t, SourceCache, cached.Source)

	other := snapshot(t, cart.Item{Name: "Playera", UnitPriceMinorUnits: 29900, Size: "M", Quantity: 2})
	_, ok = r.Lookup(context.Background(), shipping.ModeDomestic, "44100", other)
	assert.False(t, ok, "different cart must not reuse the quote")

	srv.FastForward(2 * time.Minute)
	_, ok = r.Lookup(context.Background(), shipping.ModeDomestic, "44100", items)
	assert.False(t, ok, "quote should expire")
}

type failingStore struct{}

func (failingStore) Get(context.Context, Key) (*Quote, bool, error) {
	return nil, false, errors.New("store down")
}

func (failingStore) Put(context.Context, Key, Quote) error { return errors.New("store down") }

func TestStoreFailuresDoNotBreakQuotes(t *testing.T) {
	rates := &fakeRates{rates: []carrier.Rate{{TotalAmountMinorUnits: 100, CarrierName: "fedex"}}}
	r := newResolver(t, rates, WithStore(failingStore{}))

	q, err := r.Resolve(context.Background(), shipping.ModeDomestic, "44100", oneShirt(t))
	require.NoError(t, err)
	assert.Equal(t, money.MinorUnits(100), q.AmountMinorUnits)

	_, ok := r.Lookup(context.Background(), shipping.ModeDomestic, "44100", oneShirt(t))
	assert.False(t, ok)
}

func TestMemoryStoreExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }

	key := Key{Mode: shipping.ModeDomestic, PostalCode: "44100", Fingerprint: "abc"}
	require.NoError(t, store.Put(context.Background(), key, Quote{AmountMinorUnits: 500, Carrier: "dhl"}))

	q, ok, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, money.MinorUnits(500), q.AmountMinorUnits)

	now = now.Add(time.Minute)
	_, ok, err = store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFallbackIgnoresPolicy(t *testing.T) {
	r := newResolver(t, &fakeRates{}, WithPolicy(config.QuotePolicyFail))
	q, ok := r.Fallback(shipping.ModeDomestic)
	require.True(t, ok)
	assert.Equal(t, money.MinorUnits(19900), q.AmountMinorUnits)
}
