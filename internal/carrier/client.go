// Package carrier talks to the external shipping-rate API. Every failure is
// reported as upstream.ErrUnavailable so callers can apply their own fallback
// policy; nothing else escapes this package.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/money"
	"github.com/angelmondragon/storefront-backend/pkg/upstream"
)

const (
	serviceName            = "carrier"
	ratePath               = "/ship/rate/"
	labelPath              = "/ship/generate/"
	defaultBaseURL         = "https://api.envia.com"
	defaultTimeout         = 8 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	responseReadLimit      = 1 << 20
	errorSnippetLimit      = 256
	shipmentTypeParcel     = 1
)

var (
	errNoCredential = errors.New("carrier api key not configured")
	errNoRates      = errors.New("carrier returned no usable rates")
	errNoPackages   = errors.New("at least one package is required")
	errNoPostalCode = errors.New("destination postal code is required")
)

// Client wraps the carrier REST API.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	carriers      []string
	labelService  string
	markupPercent int64
	timeout       time.Duration
	breaker       *gobreaker.CircuitBreaker[[]byte]
	logg          *logger.Logger
	metrics       *metrics.Metrics
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithMetrics records call outcomes and breaker transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient never fails: a missing API key yields a client whose calls
// report ErrUnavailable immediately.
func NewClient(cfg config.CarrierConfig, logg *logger.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimSpace(cfg.BaseURL),
		apiKey:        strings.TrimSpace(cfg.APIKey),
		carriers:      normalizeCarriers(cfg.Carriers),
		labelService:  strings.TrimSpace(cfg.LabelService),
		markupPercent: cfg.MarkupPercent,
		timeout:       timeout,
		logg:          logg,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    serviceName,
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.metrics.SetBreakerState(name, int(to))
			if c.logg != nil {
				ctx := c.logg.WithFields(context.Background(), map[string]any{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
				c.logg.Warn(ctx, "carrier.breaker_state_changed", nil)
			}
		},
	})
	return c
}

// Enabled reports whether a credential is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Quote asks every configured carrier for a rate, one after another, and
// returns the normalized offers. It returns ErrUnavailable when nothing usable
// came back.
func (c *Client) Quote(ctx context.Context, req RateRequest) ([]Rate, error) {
	if !c.Enabled() {
		return nil, upstream.Unavailable(serviceName, errNoCredential)
	}
	if strings.TrimSpace(req.Destination.PostalCode) == "" {
		return nil, upstream.Unavailable(serviceName, errNoPostalCode)
	}
	if len(req.Packages) == 0 {
		return nil, upstream.Unavailable(serviceName, errNoPackages)
	}

	carriers := req.Options.Carriers
	if len(carriers) == 0 {
		carriers = c.carriers
	}

	var (
		rates   []Rate
		lastErr error
	)
	for _, name := range carriers {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		payload := rateRequestPayload{
			Origin:      facilityPayload(req.Origin),
			Destination: addressPayload{Country: req.Destination.CountryCode, PostalCode: req.Destination.PostalCode},
			Packages:    packagesPayload(req.Packages),
			Shipment:    shipmentPayload{Carrier: name, Type: shipmentTypeParcel},
		}
		found, err := c.rate(ctx, payload)
		if err != nil {
			lastErr = err
			c.warn(ctx, "carrier.rate_unavailable", name, err)
			continue
		}
		rates = append(rates, found...)
	}

	if len(rates) == 0 {
		if lastErr == nil {
			lastErr = errNoRates
		}
		return nil, upstream.Unavailable(serviceName, lastErr)
	}
	return rates, nil
}

func (c *Client) rate(ctx context.Context, payload rateRequestPayload) ([]Rate, error) {
	raw, err := c.post(ctx, "rate", ratePath, payload)
	if err != nil {
		return nil, err
	}

	var resp rateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.metrics.IncCarrierCall("rate", "decode_error")
		return nil, fmt.Errorf("decode rate response: %w", err)
	}
	if resp.Error != nil || strings.EqualFold(resp.Meta, "error") {
		c.metrics.IncCarrierCall("rate", "api_error")
		return nil, fmt.Errorf("carrier error: %s", describeAPIError(resp.Error))
	}

	rates := make([]Rate, 0, len(resp.Data))
	for _, entry := range resp.Data {
		if entry.TotalPrice == nil || math.IsNaN(*entry.TotalPrice) || math.IsInf(*entry.TotalPrice, 0) || *entry.TotalPrice <= 0 {
			continue
		}
		carrierName := strings.TrimSpace(entry.Carrier)
		if carrierName == "" {
			continue
		}
		amount, err := money.FromMajor(*entry.TotalPrice, c.markupPercent)
		if err != nil {
			continue
		}
		rate := Rate{
			TotalAmountMinorUnits: amount,
			CarrierName:           carrierName,
			Service:               strings.TrimSpace(entry.Service),
		}
		if eta := strings.TrimSpace(entry.DeliveryEstimate); eta != "" {
			rate.DeliveryEstimate = &eta
		}
		rates = append(rates, rate)
	}
	if len(rates) == 0 {
		c.metrics.IncCarrierCall("rate", "empty")
		return nil, errNoRates
	}
	c.metrics.IncCarrierCall("rate", "ok")
	return rates, nil
}

// CreateLabel buys a label for a paid order. Same failure contract as Quote.
func (c *Client) CreateLabel(ctx context.Context, req LabelRequest) (*Label, error) {
	if !c.Enabled() {
		return nil, upstream.Unavailable(serviceName, errNoCredential)
	}
	if strings.TrimSpace(req.Customer.PostalCode) == "" {
		return nil, upstream.Unavailable(serviceName, errNoPostalCode)
	}
	if len(req.Packages) == 0 {
		return nil, upstream.Unavailable(serviceName, errNoPackages)
	}
	if len(c.carriers) == 0 {
		return nil, upstream.Unavailable(serviceName, errors.New("no carrier configured for labels"))
	}

	payload := labelRequestPayload{
		Origin:      facilityPayload(req.Origin),
		Destination: customerPayload(req.Customer),
		Packages:    packagesPayload(req.Packages),
		Shipment: shipmentPayload{
			Carrier: c.carriers[0],
			Service: c.labelService,
			Type:    shipmentTypeParcel,
		},
		Settings: settingsPayload{
			PrintFormat: "PDF",
			PrintSize:   "STOCK_4X6",
			Currency:    money.Currency,
		},
	}

	raw, err := c.post(ctx, "label", labelPath, payload)
	if err != nil {
		c.warn(ctx, "carrier.label_unavailable", c.carriers[0], err)
		return nil, upstream.Unavailable(serviceName, err)
	}

	var resp labelResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.metrics.IncCarrierCall("label", "decode_error")
		return nil, upstream.Unavailable(serviceName, fmt.Errorf("decode label response: %w", err))
	}
	if resp.Error != nil || strings.EqualFold(resp.Meta, "error") {
		c.metrics.IncCarrierCall("label", "api_error")
		return nil, upstream.Unavailable(serviceName, fmt.Errorf("carrier error: %s", describeAPIError(resp.Error)))
	}
	for _, entry := range resp.Data {
		if strings.TrimSpace(entry.TrackingNumber) == "" {
			continue
		}
		c.metrics.IncCarrierCall("label", "ok")
		return &Label{
			TrackingNumber: entry.TrackingNumber,
			LabelURL:       entry.Label,
			Carrier:        entry.Carrier,
		}, nil
	}
	c.metrics.IncCarrierCall("label", "empty")
	return nil, upstream.Unavailable(serviceName, errors.New("carrier returned no label"))
}

// post sends payload through the circuit breaker with the per-call timeout and
// returns the raw 2xx body.
func (c *Client) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.buildURL(path), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", op, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("execute %s request: %w", op, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", op, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%s request failed: status %d: %s", op, resp.StatusCode, snippet(data))
		}
		return data, nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "breaker_open"
		}
		c.metrics.IncCarrierCall(op, outcome)
		return nil, err
	}
	return raw, nil
}

func (c *Client) buildURL(path string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) warn(ctx context.Context, msg, carrierName string, err error) {
	if c.logg == nil {
		return
	}
	c.logg.Warn(c.logg.WithField(ctx, "carrier", carrierName), msg, err)
}

func describeAPIError(e *apiError) string {
	if e == nil {
		return "unknown"
	}
	parts := []string{}
	if e.Code != nil {
		parts = append(parts, fmt.Sprint(e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Description != "" {
		parts = append(parts, e.Description)
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ": ")
}

func snippet(data []byte) string {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) > errorSnippetLimit {
		return trimmed[:errorSnippetLimit]
	}
	return trimmed
}

func normalizeCarriers(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
