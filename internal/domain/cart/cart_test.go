package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixfil/masterclass-orders/internal/money"
)

func eur(v int64) money.Money {
	return money.New(decimal.NewFromInt(v), money.EUR)
}

func TestCart_AddMergesMatchingLines(t *testing.T) {
	c := New()

	require.NoError(t, c.Add(Item{SessionID: "sess-1", UnitPrice: eur(490), Quantity: 1}))
	require.NoError(t, c.Add(Item{SessionID: "sess-1", UnitPrice: eur(490), Quantity: 2}))

	require.Len(t, c.Items(), 1)
	assert.Equal(t, 3, c.Items()[0].Quantity)
}

func TestCart_AddKeepsSeparateLineOnPriceChange(t *testing.T) {
	c := New()

	// Same session added at a different snapshot price stays a separate line.
	require.NoError(t, c.Add(Item{SessionID: "sess-1", UnitPrice: eur(490), Quantity: 1}))
	require.NoError(t, c.Add(Item{SessionID: "sess-1", UnitPrice: eur(450), Quantity: 1}))

	assert.Len(t, c.Items(), 2)
}

func TestCart_AddRejectsInvalidQuantity(t *testing.T) {
	c := New()

	assert.ErrorIs(t, c.Add(Item{SessionID: "sess-1", UnitPrice: eur(490), Quantity: 0}), ErrInvalidQuantity)
	assert.ErrorIs(t, c.Add(Item{SessionID: "sess-1", UnitPrice: eur(490), Quantity: -1}), ErrInvalidQuantity)
	assert.True(t, c.IsEmpty())
}

func TestCart_RemoveAndSetQuantity(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(Item{SessionID: "sess-1", UnitPrice: eur(490), Quantity: 1}))
	require.NoError(t, c.Add(Item{SessionID: "sess-2", UnitPrice: eur(180), Quantity: 2}))

	require.NoError(t, c.SetQuantity("sess-2", 5))
	assert.Equal(t, 5, c.Items()[1].Quantity)

	assert.ErrorIs(t, c.SetQuantity("sess-2", 0), ErrInvalidQuantity)
	assert.ErrorIs(t, c.SetQuantity("sess-ghost", 1), ErrItemNotFound)

	require.NoError(t, c.Remove("sess-1"))
	assert.Len(t, c.Items(), 1)
	assert.ErrorIs(t, c.Remove("sess-1"), ErrItemNotFound)
}

func TestCart_Subtotal(t *testing.T) {
	c, err := FromItems([]Item{
		{SessionID: "sess-1", UnitPrice: eur(490), Quantity: 2},
		{SessionID: "sess-2", UnitPrice: eur(180), Quantity: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "1160.00 EUR", c.Subtotal().String())

	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Subtotal().IsZero())
}

func TestFromItems_ValidatesQuantities(t *testing.T) {
	_, err := FromItems([]Item{
		{SessionID: "sess-1", UnitPrice: eur(490), Quantity: 0},
	})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}
