package shipping

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed origin.yaml
var defaultOrigin []byte

// Facility is the fixed address every shipment leaves from.
type Facility struct {
	Name       string `yaml:"name"`
	Company    string `yaml:"company"`
	Email      string `yaml:"email"`
	Phone      string `yaml:"phone"`
	Street     string `yaml:"street"`
	Number     string `yaml:"number"`
	District   string `yaml:"district"`
	City       string `yaml:"city"`
	State      string `yaml:"state"`
	Country    string `yaml:"country"`
	PostalCode string `yaml:"postalCode"`
}

// StandardPackage is used for every quote since true parcel dimensions are
// unknown at cart time.
type StandardPackage struct {
	Content         string  `yaml:"content"`
	Type            string  `yaml:"type"`
	LengthCm        float64 `yaml:"lengthCm"`
	WidthCm         float64 `yaml:"widthCm"`
	HeightCm        float64 `yaml:"heightCm"`
	MinWeightKg     float64 `yaml:"minWeightKg"`
	WeightPerUnitKg float64 `yaml:"weightPerUnitKg"`
}

// FlatRate is a fixed shipping price used when no carrier rate is available.
type FlatRate struct {
	Amount  int64  `yaml:"amount"`
	Carrier string `yaml:"carrier"`
	ETA     string `yaml:"eta"`
}

// Origin groups the static shipping configuration.
type Origin struct {
	Facility Facility            `yaml:"facility"`
	Package  StandardPackage     `yaml:"package"`
	Fallback map[string]FlatRate `yaml:"fallback"`
}

// LoadOrigin reads the origin from path, or the embedded default when path
// is empty.
func LoadOrigin(path string) (*Origin, error) {
	raw := defaultOrigin
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		data, err := os.ReadFile(trimmed)
		if err != nil {
			return nil, fmt.Errorf("read origin file: %w", err)
		}
		raw = data
	}
	return ParseOrigin(raw)
}

// DefaultOrigin returns the embedded origin. It panics only if the embedded
// file is broken, which the package tests guard against.
func DefaultOrigin() *Origin {
	origin, err := ParseOrigin(defaultOrigin)
	if err != nil {
		panic(fmt.Sprintf("embedded origin.yaml: %v", err))
	}
	return origin
}

func ParseOrigin(raw []byte) (*Origin, error) {
	var origin Origin
	if err := yaml.Unmarshal(raw, &origin); err != nil {
		return nil, fmt.Errorf("decode origin: %w", err)
	}
	if err := origin.validate(); err != nil {
		return nil, err
	}
	return &origin, nil
}

// FallbackFor returns the flat rate configured for mode.
func (o *Origin) FallbackFor(mode Mode) (FlatRate, bool) {
	if o == nil || mode.IsPickup() {
		return FlatRate{}, false
	}
	rate, ok := o.Fallback[string(mode)]
	return rate, ok
}

func (o *Origin) validate() error {
	if o.Facility.PostalCode == "" || o.Facility.Country == "" {
		return errors.New("origin facility requires country and postal code")
	}
	p := o.Package
	if p.LengthCm <= 0 || p.WidthCm <= 0 || p.HeightCm <= 0 {
		return errors.New("origin package dimensions must be positive")
	}
	if p.MinWeightKg < 1 {
		return errors.New("origin package minimum weight must be at least 1kg")
	}
	for mode, rate := range o.Fallback {
		if rate.Amount <= 0 {
			return fmt.Errorf("fallback rate for %q must be positive", mode)
		}
	}
	return nil
}
