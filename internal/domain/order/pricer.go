package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/pixfil/masterclass-orders/internal/domain/cart"
	"github.com/pixfil/masterclass-orders/internal/domain/customer"
	"github.com/pixfil/masterclass-orders/internal/domain/promo"
	"github.com/pixfil/masterclass-orders/internal/money"
)

// taxRate is the French standard VAT rate, applied after discount.
var taxRate = decimal.NewFromInt(20)

// ErrNegativeTotal indicates a computation that would produce a negative
// subtotal or total. That is a logic error upstream, never a valid
// discount, so pricing fails instead of clamping.
var ErrNegativeTotal = errors.New("pricing produced a negative amount")

// Quote is the priced view of a cart: subtotal from snapshots, the total
// discount, VAT computed on the discounted amount, and the final total.
type Quote struct {
	Subtotal money.Money
	Discount money.Money
	Tax      money.Money
	Total    money.Money
	Applied  []AppliedCode
}

// Pricer composes subtotal, discounts, tax and total for a cart snapshot.
type Pricer struct {
	evaluator *promo.Evaluator
	codes     promo.Repository
}

// NewPricer creates a Pricer using the given evaluator for discount
// decisions and the code repository for auto-apply sweeps.
func NewPricer(evaluator *promo.Evaluator, codes promo.Repository) *Pricer {
	return &Pricer{evaluator: evaluator, codes: codes}
}

// Price evaluates the requested codes in application order, sweeps
// auto-apply codes, and composes the totals. Stackable codes apply
// sequentially: each code's discount is computed against the
// discounted-so-far value of the lines it is eligible for, and only those
// lines absorb the discount.
func (p *Pricer) Price(ctx context.Context, c *cart.Cart, cust *customer.Customer, codeStrs []string) (*Quote, error) {
	if c.IsEmpty() {
		return nil, cart.ErrEmptyCart
	}

	subtotal := c.Subtotal()

	remaining := make(map[string]money.Money, len(c.Items()))
	for _, line := range c.Items() {
		remaining[line.SessionID] = line.LineTotal()
	}

	var (
		applied      []*promo.Code
		appliedCodes []AppliedCode
		discount     = money.Zero(money.EUR)
	)

	apply := func(ev *promo.Evaluation) {
		absorbDiscount(remaining, ev.EligibleSessions, ev.Discount)
		discount, _ = discount.Add(ev.Discount)
		applied = append(applied, ev.Code)
		appliedCodes = append(appliedCodes, AppliedCode{
			CodeID:   ev.Code.ID,
			Code:     ev.Code.Code,
			Discount: ev.Discount,
		})
	}

	for _, codeStr := range codeStrs {
		ev, err := p.evaluator.Evaluate(ctx, codeStr, c, cust, promo.Context{
			Applied:         applied,
			RemainingByLine: remaining,
		})
		if err != nil {
			return nil, err
		}
		apply(ev)
	}

	// Auto-apply codes join silently when applicable and are skipped
	// silently otherwise.
	autoCodes, err := p.codes.ListAutoApply(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list auto-apply codes")
	}
	for _, ac := range autoCodes {
		if containsCode(applied, ac.ID) {
			continue
		}
		ev, err := p.evaluator.EvaluateCode(ctx, ac, c, cust, promo.Context{
			Applied:         applied,
			RemainingByLine: remaining,
		})
		if err != nil {
			var na *promo.NotApplicableError
			if errors.As(err, &na) {
				continue
			}
			return nil, err
		}
		apply(ev)
	}

	if discount.GreaterThan(subtotal) {
		return nil, errors.Wrap(ErrNegativeTotal, "discount exceeds subtotal")
	}

	discounted, err := subtotal.Sub(discount)
	if err != nil {
		return nil, err
	}
	tax := discounted.Percent(taxRate)
	total, err := discounted.Add(tax)
	if err != nil {
		return nil, err
	}

	if subtotal.IsNegative() || total.IsNegative() {
		return nil, ErrNegativeTotal
	}

	return &Quote{
		Subtotal: subtotal.Round(),
		Discount: discount.Round(),
		Tax:      tax,
		Total:    total.Round(),
		Applied:  appliedCodes,
	}, nil
}

// absorbDiscount subtracts amount from the remaining value of the eligible
// lines, front to back, so a later code sees the discounted-so-far values.
func absorbDiscount(remaining map[string]money.Money, sessions []string, amount money.Money) {
	left := amount
	for _, sid := range sessions {
		if left.IsZero() {
			return
		}
		rem, ok := remaining[sid]
		if !ok {
			continue
		}
		take := money.Min(left, rem)
		rem, _ = rem.Sub(take)
		remaining[sid] = rem
		left, _ = left.Sub(take)
	}
}

func containsCode(applied []*promo.Code, id string) bool {
	for _, c := range applied {
		if c.ID == id {
			return true
		}
	}
	return false
}
