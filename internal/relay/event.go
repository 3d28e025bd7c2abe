package relay

import (
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/shipping"
	"github.com/angelmondragon/storefront-backend/pkg/money"
)

// Address is the delivery address collected on the hosted checkout page.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// OrderCompletedEvent is what the side channels learn about a paid order.
type OrderCompletedEvent struct {
	OrderID         string           `json:"orderId"`
	CustomerName    string           `json:"customerName"`
	CustomerEmail   string           `json:"customerEmail"`
	CustomerPhone   string           `json:"customerPhone,omitempty"`
	TotalMinorUnits money.MinorUnits `json:"total"`
	Currency        string           `json:"currency"`
	ShippingMode    shipping.Mode    `json:"shippingMode"`
	PostalCode      string           `json:"postalCode,omitempty"`
	Address         *Address         `json:"address,omitempty"`
}

// FromCheckoutSession extracts the event from a completed session.
func FromCheckoutSession(sess *stripe.CheckoutSession) (OrderCompletedEvent, error) {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return OrderCompletedEvent{}, fmt.Errorf("checkout session id missing")
	}

	evt := OrderCompletedEvent{
		OrderID:         sess.ID,
		TotalMinorUnits: money.MinorUnits(sess.AmountTotal),
		Currency:        strings.ToUpper(string(sess.Currency)),
	}
	if evt.Currency == "" {
		evt.Currency = money.Currency
	}

	var addr *stripe.Address
	if d := sess.CustomerDetails; d != nil {
		evt.CustomerName = d.Name
		evt.CustomerEmail = d.Email
		evt.CustomerPhone = d.Phone
		addr = d.Address
	}
	if info := sess.CollectedInformation; info != nil && info.ShippingDetails != nil {
		if info.ShippingDetails.Name != "" {
			evt.CustomerName = info.ShippingDetails.Name
		}
		if info.ShippingDetails.Address != nil {
			addr = info.ShippingDetails.Address
		}
	}
	if evt.CustomerEmail == "" {
		evt.CustomerEmail = sess.CustomerEmail
	}

	mode, err := shipping.ParseMode(sess.Metadata[checkout.MetadataShippingMode])
	if err != nil {
		mode = shipping.ModeDomestic
	}
	evt.ShippingMode = mode
	evt.PostalCode = sess.Metadata[checkout.MetadataPostalCode]

	if addr != nil && !mode.IsPickup() {
		evt.Address = &Address{
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			Country:    addr.Country,
			PostalCode: addr.PostalCode,
		}
		if evt.PostalCode == "" {
			evt.PostalCode = shipping.NormalizePostalCode(addr.PostalCode)
		}
	}
	return evt, nil
}

// Summary is the one-line human description used in chat notifications.
func (e OrderCompletedEvent) Summary() string {
	name := e.CustomerName
	if name == "" {
		name = "Cliente"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Nuevo pedido %s\n", e.OrderID)
	fmt.Fprintf(&b, "%s <%s>\n", name, e.CustomerEmail)
	if e.CustomerPhone != "" {
		fmt.Fprintf(&b, "Tel: %s\n", e.CustomerPhone)
	}
	fmt.Fprintf(&b, "Total: $%s %s\n", e.TotalMinorUnits.Major(), e.Currency)
	if e.ShippingMode.IsPickup() {
		b.WriteString("Entrega: recoger en tienda")
	} else {
		fmt.Fprintf(&b, "Envío: %s %s", e.ShippingMode, e.PostalCode)
	}
	return b.String()
}
