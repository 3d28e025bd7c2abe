// Package relay fans paid-order and shipment events out to best-effort side
// channels. Nothing here affects the payment outcome.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/internal/carrier"
	"github.com/angelmondragon/storefront-backend/internal/shipping"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	TaskWebhook  = "webhook"
	TaskTelegram = "telegram"
	TaskLabel    = "label"
	TaskShipment = "shipment_status"

	EventOrderCompleted = "order.completed"
	EventShipmentStatus = "shipment.status"

	defaultLabelTimeout = 15 * time.Second
)

// Notifier delivers a chat message.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
}

// LabelCreator buys a shipping label for a paid order.
type LabelCreator interface {
	CreateLabel(ctx context.Context, req carrier.LabelRequest) (*carrier.Label, error)
}

// Params wires the relay. Everything except Queue is optional; a missing
// sink simply means its task is never scheduled.
type Params struct {
	Queue    *Queue
	Webhook  *WebhookSink
	Notifier Notifier
	Labels   LabelCreator
	Origin   *shipping.Origin
	Logger   *logger.Logger

	// LabelTimeout bounds the label purchase plus its chat message. It must
	// cover the carrier call timeout.
	LabelTimeout time.Duration
}

type Relay struct {
	queue        *Queue
	webhook      *WebhookSink
	notifier     Notifier
	labels       LabelCreator
	origin       *shipping.Origin
	logg         *logger.Logger
	labelTimeout time.Duration
}

func New(params Params) (*Relay, error) {
	if params.Queue == nil {
		return nil, fmt.Errorf("relay queue required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	origin := params.Origin
	if origin == nil {
		origin = shipping.DefaultOrigin()
	}
	labelTimeout := params.LabelTimeout
	if labelTimeout <= 0 {
		labelTimeout = defaultLabelTimeout
	}
	return &Relay{
		queue:        params.Queue,
		webhook:      params.Webhook,
		notifier:     params.Notifier,
		labels:       params.Labels,
		origin:       origin,
		logg:         logg,
		labelTimeout: labelTimeout,
	}, nil
}

// OrderCompleted schedules every configured side channel for evt and returns
// how many tasks were accepted.
func (r *Relay) OrderCompleted(ctx context.Context, evt OrderCompletedEvent) int {
	ctx = r.logg.WithField(ctx, "order_id", evt.OrderID)
	var tasks []Task

	if r.webhook != nil {
		tasks = append(tasks, Task{Name: TaskWebhook, Run: func(ctx context.Context) error {
			return r.webhook.Send(ctx, EventOrderCompleted, evt)
		}})
	}
	if r.notifier != nil {
		tasks = append(tasks, Task{Name: TaskTelegram, Run: func(ctx context.Context) error {
			return r.notifier.SendMessage(ctx, evt.Summary())
		}})
	}
	if r.labels != nil && !evt.ShippingMode.IsPickup() && evt.Address != nil {
		tasks = append(tasks, Task{Name: TaskLabel, Timeout: r.labelTimeout, Run: func(ctx context.Context) error {
			return r.createLabel(ctx, evt)
		}})
	}

	accepted := 0
	for _, task := range tasks {
		if r.queue.Enqueue(ctx, task) {
			accepted++
		}
	}
	return accepted
}

func (r *Relay) createLabel(ctx context.Context, evt OrderCompletedEvent) error {
	label, err := r.labels.CreateLabel(ctx, carrier.LabelRequest{
		Origin:   r.origin.Facility,
		Customer: customerFor(evt),
		Packages: []carrier.Package{r.standardPackage(evt)},
	})
	if err != nil {
		return fmt.Errorf("create label: %w", err)
	}
	if r.notifier == nil {
		return nil
	}
	msg := fmt.Sprintf("Guía generada para %s\nPaquetería: %s\nRastreo: %s", evt.OrderID, label.Carrier, label.TrackingNumber)
	if label.LabelURL != "" {
		msg += "\nEtiqueta: " + label.LabelURL
	}
	return r.notifier.SendMessage(ctx, msg)
}

func (r *Relay) standardPackage(evt OrderCompletedEvent) carrier.Package {
	std := r.origin.Package
	return carrier.Package{
		Content:  std.Content,
		Quantity: 1,
		Type:     std.Type,
		Dimensions: carrier.Dimensions{
			LengthCm: std.LengthCm,
			WidthCm:  std.WidthCm,
			HeightCm: std.HeightCm,
		},
		WeightKg:                std.MinWeightKg,
		DeclaredValueMinorUnits: evt.TotalMinorUnits,
	}
}

func customerFor(evt OrderCompletedEvent) carrier.Customer {
	c := carrier.Customer{
		Name:       evt.CustomerName,
		Email:      evt.CustomerEmail,
		Phone:      evt.CustomerPhone,
		PostalCode: evt.PostalCode,
		Country:    evt.ShippingMode.CountryCode(),
	}
	if a := evt.Address; a != nil {
		c.Street = strings.TrimSpace(a.Line1)
		c.District = strings.TrimSpace(a.Line2)
		c.City = a.City
		c.State = a.State
		if a.Country != "" {
			c.Country = a.Country
		}
		if a.PostalCode != "" {
			c.PostalCode = a.PostalCode
		}
	}
	return c
}

// ShipmentStatus is a carrier tracking update.
type ShipmentStatus struct {
	TrackingNumber string `json:"trackingNumber"`
	Status         string `json:"status"`
	Carrier        string `json:"carrier,omitempty"`
	Description    string `json:"description,omitempty"`
}

func (s ShipmentStatus) Summary() string {
	msg := fmt.Sprintf("Actualización de envío %s: %s", s.TrackingNumber, s.Status)
	if s.Carrier != "" {
		msg += " (" + s.Carrier + ")"
	}
	if s.Description != "" {
		msg += "\n" + s.Description
	}
	return msg
}

// ShipmentUpdated forwards a tracking update to every sink in a single task.
func (r *Relay) ShipmentUpdated(ctx context.Context, update ShipmentStatus) bool {
	if r.webhook == nil && r.notifier == nil {
		return false
	}
	return r.queue.Enqueue(ctx, Task{Name: TaskShipment, Run: func(ctx context.Context) error {
		var errs error
		if r.notifier != nil {
			errs = multierr.Append(errs, r.notifier.SendMessage(ctx, update.Summary()))
		}
		if r.webhook != nil {
			errs = multierr.Append(errs, r.webhook.Send(ctx, EventShipmentStatus, update))
		}
		return errs
	}})
}

// LabelTimeout is the budget for a label purchase followed by its chat
// message.
func LabelTimeout(carrierTimeout, notifyTimeout time.Duration) time.Duration {
	if carrierTimeout <= 0 || notifyTimeout <= 0 {
		return defaultLabelTimeout
	}
	return carrierTimeout + notifyTimeout
}

// Failures exposes the queue's failure log.
func (r *Relay) Failures() []Failure {
	return r.queue.Failures()
}
