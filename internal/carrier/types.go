package carrier

import (
	"encoding/json"

	"github.com/angelmondragon/storefront-backend/internal/shipping"
	"github.com/angelmondragon/storefront-backend/pkg/money"
)

// Dimensions are expressed in centimeters.
type Dimensions struct {
	LengthCm float64
	WidthCm  float64
	HeightCm float64
}

// Package describes one parcel in a shipment.
type Package struct {
	Content                 string
	Quantity                int64
	Type                    string
	Dimensions              Dimensions
	WeightKg                float64
	DeclaredValueMinorUnits money.MinorUnits
}

// ShipmentOptions narrows which carrier services are quoted.
type ShipmentOptions struct {
	// Carriers are queried one after another; empty means the client defaults.
	Carriers []string
}

// RateRequest is the input of Client.Quote.
type RateRequest struct {
	Origin      shipping.Facility
	Destination shipping.Destination
	Packages    []Package
	Options     ShipmentOptions
}

// Rate is a normalized carrier offer, markup already applied.
type Rate struct {
	TotalAmountMinorUnits money.MinorUnits
	CarrierName           string
	Service               string
	DeliveryEstimate      *string
}

// Customer is the recipient of a labeled shipment.
type Customer struct {
	Name       string
	Email      string
	Phone      string
	Street     string
	Number     string
	District   string
	City       string
	State      string
	Country    string
	PostalCode string
}

// LabelRequest is the input of Client.CreateLabel.
type LabelRequest struct {
	Origin   shipping.Facility
	Customer Customer
	Packages []Package
}

// Label is a purchased shipping label.
type Label struct {
	TrackingNumber string
	LabelURL       string
	Carrier        string
}

// wire types

type addressPayload struct {
	Name       string `json:"name,omitempty"`
	Company    string `json:"company,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
}

type dimensionsPayload struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type packagePayload struct {
	Content       string            `json:"content"`
	Amount        int64             `json:"amount"`
	Type          string            `json:"type"`
	Dimensions    dimensionsPayload `json:"dimensions"`
	Weight        float64           `json:"weight"`
	Insurance     int               `json:"insurance"`
	DeclaredValue json.Number       `json:"declaredValue"`
	WeightUnit    string            `json:"weightUnit"`
	LengthUnit    string            `json:"lengthUnit"`
}

type shipmentPayload struct {
	Carrier string `json:"carrier"`
	Service string `json:"service,omitempty"`
	Type    int    `json:"type"`
}

type settingsPayload struct {
	PrintFormat string `json:"printFormat"`
	PrintSize   string `json:"printSize"`
	Currency    string `json:"currency"`
}

type rateRequestPayload struct {
	Origin      addressPayload   `json:"origin"`
	Destination addressPayload   `json:"destination"`
	Packages    []packagePayload `json:"packages"`
	Shipment    shipmentPayload  `json:"shipment"`
}

type labelRequestPayload struct {
	Origin      addressPayload   `json:"origin"`
	Destination addressPayload   `json:"destination"`
	Packages    []packagePayload `json:"packages"`
	Shipment    shipmentPayload  `json:"shipment"`
	Settings    settingsPayload  `json:"settings"`
}

type apiError struct {
	Code        any    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

type rateResponse struct {
	Meta  string    `json:"meta"`
	Error *apiError `json:"error,omitempty"`
	Data  []struct {
		Carrier            string   `json:"carrier"`
		Service            string   `json:"service"`
		ServiceDescription string   `json:"serviceDescription"`
		DeliveryEstimate   string   `json:"deliveryEstimate"`
		TotalPrice         *float64 `json:"totalPrice"`
		Currency           string   `json:"currency"`
	} `json:"data"`
}

type labelResponse struct {
	Meta  string    `json:"meta"`
	Error *apiError `json:"error,omitempty"`
	Data  []struct {
		Carrier        string `json:"carrier"`
		TrackingNumber string `json:"trackingNumber"`
		Label          string `json:"label"`
	} `json:"data"`
}

func facilityPayload(f shipping.Facility) addressPayload {
	return addressPayload{
		Name:       f.Name,
		Company:    f.Company,
		Email:      f.Email,
		Phone:      f.Phone,
		Street:     f.Street,
		Number:     f.Number,
		District:   f.District,
		City:       f.City,
		State:      f.State,
		Country:    f.Country,
		PostalCode: f.PostalCode,
	}
}

func customerPayload(c Customer) addressPayload {
	return addressPayload{
		Name:       c.Name,
		Email:      c.Email,
		Phone:      c.Phone,
		Street:     c.Street,
		Number:     c.Number,
		District:   c.District,
		City:       c.City,
		State:      c.State,
		Country:    c.Country,
		PostalCode: c.PostalCode,
	}
}

func packagesPayload(pkgs []Package) []packagePayload {
	out := make([]packagePayload, 0, len(pkgs))
	for _, p := range pkgs {
		pkgType := p.Type
		if pkgType == "" {
			pkgType = "box"
		}
		out = append(out, packagePayload{
			Content: p.Content,
			Amount:  p.Quantity,
			Type:    pkgType,
			Dimensions: dimensionsPayload{
				Length: p.Dimensions.LengthCm,
				Width:  p.Dimensions.WidthCm,
				Height: p.Dimensions.HeightCm,
			},
			Weight:        p.WeightKg,
			DeclaredValue: json.Number(p.DeclaredValueMinorUnits.Major()),
			WeightUnit:    "KG",
			LengthUnit:    "CM",
		})
	}
	return out
}
