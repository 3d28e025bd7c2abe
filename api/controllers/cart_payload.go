package controllers

import (
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/shipping"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/money"
)

// cartItemPayload is a cart line as the storefront sends it.
type cartItemPayload struct {
	Name                string `json:"name" validate:"required,max=200"`
	UnitPriceMinorUnits int64  `json:"unitPriceMinorUnits" validate:"gt=0"`
	Size                string `json:"size" validate:"max=20"`
	Quantity            int64  `json:"quantity" validate:"gt=0,max=99"`
	ImageRef            string `json:"imageRef" validate:"max=500"`
}

func snapshotFrom(items []cartItemPayload) (cart.Snapshot, error) {
	lines := make([]cart.Item, 0, len(items))
	for _, item := range items {
		lines = append(lines, cart.Item{
			Name:                item.Name,
			UnitPriceMinorUnits: money.MinorUnits(item.UnitPriceMinorUnits),
			Size:                item.Size,
			Quantity:            item.Quantity,
			ImageRef:            item.ImageRef,
		})
	}
	c, err := cart.New(lines...)
	if err != nil {
		return cart.Snapshot{}, err
	}
	return c.Snapshot(), nil
}

func parseMode(raw string) (shipping.Mode, error) {
	mode, err := shipping.ParseMode(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "shipping mode must be pickup, mx or us")
	}
	return mode, nil
}
