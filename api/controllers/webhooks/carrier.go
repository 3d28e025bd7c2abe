package webhooks

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/relay"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type ShipmentRelay interface {
	ShipmentUpdated(ctx context.Context, update relay.ShipmentStatus) bool
}

// carrierEvent accepts both the flat tracking payload and the nested "data"
// envelope some carrier aggregators send.
type carrierEvent struct {
	TrackingNumber string `json:"trackingNumber"`
	Status         string `json:"status"`
	Carrier        string `json:"carrier"`
	Description    string `json:"description"`
	Data           *struct {
		TrackingNumber string `json:"trackingNumber"`
		Status         string `json:"status"`
		Carrier        string `json:"carrier"`
		Description    string `json:"description"`
	} `json:"data"`
}

func (e carrierEvent) status() relay.ShipmentStatus {
	out := relay.ShipmentStatus{
		TrackingNumber: strings.TrimSpace(e.TrackingNumber),
		Status:         strings.TrimSpace(e.Status),
		Carrier:        strings.TrimSpace(e.Carrier),
		Description:    strings.TrimSpace(e.Description),
	}
	if d := e.Data; d != nil {
		if out.TrackingNumber == "" {
			out.TrackingNumber = strings.TrimSpace(d.TrackingNumber)
		}
		if out.Status == "" {
			out.Status = strings.TrimSpace(d.Status)
		}
		if out.Carrier == "" {
			out.Carrier = strings.TrimSpace(d.Carrier)
		}
		if out.Description == "" {
			out.Description = strings.TrimSpace(d.Description)
		}
	}
	return out
}

// CarrierWebhook handles POST /carrier-webhook. Carriers retry aggressively on
// anything but 200, so malformed payloads are logged and acknowledged.
func CarrierWebhook(shipments ShipmentRelay, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload carrierEvent
		if err := validators.DecodeLooseJSON(w, r, &payload); err != nil {
			if logg != nil {
				logg.Warn(ctx, "carrier_webhook.malformed", err)
			}
			responses.WriteReceived(w)
			return
		}

		update := payload.status()
		if update.TrackingNumber == "" || update.Status == "" {
			if logg != nil {
				logg.Warn(ctx, "carrier_webhook.incomplete", nil)
			}
			responses.WriteReceived(w)
			return
		}

		if shipments != nil && !shipments.ShipmentUpdated(ctx, update) && logg != nil {
			logg.Warn(logg.WithField(ctx, "tracking_number", update.TrackingNumber), "carrier_webhook.not_relayed", nil)
		}
		responses.WriteReceived(w)
	}
}
