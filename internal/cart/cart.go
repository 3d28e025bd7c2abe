// Package cart holds the shopper's cart as an explicit value. Callers mutate
// it through AddItem/RemoveItem and read it through Snapshot, which always
// returns a copy.
package cart

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/money"
)

const maxNameLength = 200

// Item is one cart line.
type Item struct {
	Name                string
	UnitPriceMinorUnits money.MinorUnits
	Size                string
	Quantity            int64
	ImageRef            string
}

// LineTotal is unit price times quantity.
func (i Item) LineTotal() money.MinorUnits {
	return i.UnitPriceMinorUnits.Mul(i.Quantity)
}

func (i Item) key() string {
	return strings.ToLower(i.Name) + "\x00" + strings.ToLower(i.Size) + "\x00" + strconv.FormatInt(int64(i.UnitPriceMinorUnits), 10)
}

// Validate checks the invariants every cart line must hold.
func (i Item) Validate() error {
	name := strings.TrimSpace(i.Name)
	switch {
	case name == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "item name is required")
	case len(name) > maxNameLength:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item name exceeds %d characters", maxNameLength))
	case i.UnitPriceMinorUnits <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %q must have a positive price", name))
	case i.Quantity <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %q must have a positive quantity", name))
	}
	return nil
}

// Cart is not safe for concurrent use; each request builds its own.
type Cart struct {
	lines []Item
}

// New builds a cart from items, merging repeated lines.
func New(items ...Item) (*Cart, error) {
	c := &Cart{}
	for _, item := range items {
		if err := c.AddItem(item); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddItem appends item or increases the quantity of an identical line
// (same name, size and price).
func (c *Cart) AddItem(item Item) error {
	item.Name = strings.TrimSpace(item.Name)
	item.Size = strings.TrimSpace(item.Size)
	item.ImageRef = strings.TrimSpace(item.ImageRef)
	if err := item.Validate(); err != nil {
		return err
	}
	key := item.key()
	for idx := range c.lines {
		if c.lines[idx].key() == key {
			c.lines[idx].Quantity += item.Quantity
			return nil
		}
	}
	c.lines = append(c.lines, item)
	return nil
}

// RemoveItem drops the line matching name and size. It reports whether a
// line was removed.
func (c *Cart) RemoveItem(name, size string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	size = strings.ToLower(strings.TrimSpace(size))
	for idx, line := range c.lines {
		if strings.ToLower(line.Name) == name && strings.ToLower(line.Size) == size {
			c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns an immutable copy of the current lines.
func (c *Cart) Snapshot() Snapshot {
	if c == nil || len(c.lines) == 0 {
		return Snapshot{}
	}
	out := make([]Item, len(c.lines))
	copy(out, c.lines)
	return Snapshot{items: out}
}

// Snapshot is a read-only view of a cart.
type Snapshot struct {
	items []Item
}

// Items returns a copy of the lines.
func (s Snapshot) Items() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

func (s Snapshot) Len() int { return len(s.items) }

func (s Snapshot) Empty() bool { return len(s.items) == 0 }

// Subtotal sums line totals, excluding shipping.
func (s Snapshot) Subtotal() money.MinorUnits {
	var total money.MinorUnits
	for _, item := range s.items {
		total += item.LineTotal()
	}
	return total
}

// Units counts every unit across all lines.
func (s Snapshot) Units() int64 {
	var units int64
	for _, item := range s.items {
		units += item.Quantity
	}
	return units
}

// Fingerprint identifies the shippable content of the cart. Two carts with
// the same lines in the same order share a fingerprint; image references do
// not participate.
func (s Snapshot) Fingerprint() string {
	h := sha256.New()
	for _, item := range s.items {
		fmt.Fprintf(h, "%s|%d\n", item.key(), item.Quantity)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
