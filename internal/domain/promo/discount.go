package promo

import (
	"github.com/pixfil/masterclass-orders/internal/domain/cart"
	"github.com/pixfil/masterclass-orders/internal/money"
)

// computeDiscount calculates the amount a code removes, over the eligible
// lines only. When remaining is non-nil the computation runs against the
// discounted-so-far line values, so stackable codes compound sequentially
// instead of simultaneously.
func computeDiscount(code *Code, eligible []cart.Item, remaining map[string]money.Money) money.Money {
	base := money.Zero(money.EUR)
	for _, line := range eligible {
		value := line.LineTotal()
		if remaining != nil {
			if rem, ok := remaining[line.SessionID]; ok {
				value = rem
			}
		}
		base, _ = base.Add(value)
	}

	switch code.DiscountType {
	case DiscountPercentage:
		amount := base.Percent(code.DiscountValue)
		if code.MaximumDiscountAmount != nil {
			amount = money.Min(amount, *code.MaximumDiscountAmount)
		}
		// Never discount below zero total for the eligible subset.
		return money.Min(amount, base)

	case DiscountFixedAmount:
		value := money.New(code.DiscountValue, money.EUR).Round()
		return money.Min(value, base)

	case DiscountFreeShipping:
		// No shipping lines exist for training sessions; reserved.
		return money.Zero(money.EUR)

	default:
		return money.Zero(money.EUR)
	}
}
