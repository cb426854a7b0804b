// Package cart models the ephemeral, single-owner shopping cart. A cart
// holds price snapshots taken at add time; checkout converts it into an
// order and the cart is discarded.
package cart

import (
	"github.com/go-faster/errors"

	"github.com/pixfil/masterclass-orders/internal/money"
)

// Sentinel errors for cart mutation and pricing.
var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrItemNotFound    = errors.New("item not in cart")
)

// Item is one cart line: a training session, the unit price captured when
// the line was added, and the number of seats requested.
type Item struct {
	SessionID   string
	FormationID string
	CategoryID  string
	UnitPrice   money.Money
	Quantity    int
}

// LineTotal returns UnitPrice * Quantity.
func (i Item) LineTotal() money.Money {
	return i.UnitPrice.MulInt(int64(i.Quantity))
}

// Cart is an ordered list of items owned by one customer session.
// It is not safe for concurrent use; a cart has a single owner.
type Cart struct {
	items []Item
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{}
}

// FromItems builds a cart from an existing snapshot, e.g. a checkout
// request body. Quantities are validated.
func FromItems(items []Item) (*Cart, error) {
	c := New()
	for _, it := range items {
		if err := c.Add(it); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add appends a line, merging quantity into an existing line for the same
// session when the price snapshot matches.
func (c *Cart) Add(item Item) error {
	if item.Quantity <= 0 {
		return errors.Wrapf(ErrInvalidQuantity, "session %s", item.SessionID)
	}
	for i := range c.items {
		if c.items[i].SessionID == item.SessionID && c.items[i].UnitPrice.Equal(item.UnitPrice) {
			c.items[i].Quantity += item.Quantity
			return nil
		}
	}
	c.items = append(c.items, item)
	return nil
}

// Remove deletes the line for the given session.
func (c *Cart) Remove(sessionID string) error {
	for i := range c.items {
		if c.items[i].SessionID == sessionID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrItemNotFound, "session %s", sessionID)
}

// SetQuantity changes the seat count on an existing line.
func (c *Cart) SetQuantity(sessionID string, qty int) error {
	if qty <= 0 {
		return errors.Wrapf(ErrInvalidQuantity, "session %s", sessionID)
	}
	for i := range c.items {
		if c.items[i].SessionID == sessionID {
			c.items[i].Quantity = qty
			return nil
		}
	}
	return errors.Wrapf(ErrItemNotFound, "session %s", sessionID)
}

// Clear removes all lines.
func (c *Cart) Clear() {
	c.items = nil
}

// Items returns the lines in insertion order. The returned slice must not
// be mutated by the caller.
func (c *Cart) Items() []Item {
	return c.items
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

// Subtotal sums UnitPrice * Quantity over all lines using the snapshotted
// prices, never a live catalog read.
func (c *Cart) Subtotal() money.Money {
	sum := money.Zero(money.EUR)
	for _, it := range c.items {
		sum, _ = sum.Add(it.LineTotal())
	}
	return sum
}
