package shipping

import (
	"fmt"
	"strings"
	"unicode"
)

// Mode selects how an order reaches the customer.
type Mode string

const (
	ModePickup        Mode = "pickup"
	ModeDomestic      Mode = "mx"
	ModeInternational Mode = "us"
)

var modeAliases = map[string]Mode{
	"pickup":        ModePickup,
	"mx":            ModeDomestic,
	"domestic":      ModeDomestic,
	"us":            ModeInternational,
	"international": ModeInternational,
}

// ParseMode accepts the storefront mode names plus the long aliases.
func ParseMode(raw string) (Mode, error) {
	if mode, ok := modeAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mode, nil
	}
	return "", fmt.Errorf("invalid shipping mode %q", raw)
}

func (m Mode) String() string { return string(m) }

func (m Mode) IsPickup() bool { return m == ModePickup }

// CountryCode is the destination country a carrier shipment goes to. Pickup
// orders stay at the domestic facility.
func (m Mode) CountryCode() string {
	if m == ModeInternational {
		return "US"
	}
	return "MX"
}

// Domestic reports whether the buyer pays in the facility's own region, which
// is what unlocks cash-voucher payment.
func (m Mode) Domestic() bool {
	return m != ModeInternational
}

// Destination is where a carrier shipment is delivered.
type Destination struct {
	CountryCode string
	PostalCode  string
}

// NewDestination normalizes the postal code for the given mode.
func NewDestination(mode Mode, rawPostalCode string) Destination {
	return Destination{
		CountryCode: mode.CountryCode(),
		PostalCode:  NormalizePostalCode(rawPostalCode),
	}
}

// NormalizePostalCode keeps only ASCII digits ("44 100" -> "44100",
// "90210-1234" -> "902101234").
func NormalizePostalCode(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (d Destination) Valid() bool {
	return d.PostalCode != "" && d.CountryCode != ""
}
