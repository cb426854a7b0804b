package order

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixfil/masterclass-orders/internal/domain/cart"
	"github.com/pixfil/masterclass-orders/internal/domain/customer"
	"github.com/pixfil/masterclass-orders/internal/domain/promo"
	"github.com/pixfil/masterclass-orders/internal/money"
)

type mockCodeRepo struct {
	codes map[string]*promo.Code
}

func (m *mockCodeRepo) FindByCode(_ context.Context, code string) (*promo.Code, error) {
	c, ok := m.codes[code]
	if !ok {
		return nil, promo.ErrCodeNotFound
	}
	return c, nil
}

func (m *mockCodeRepo) ListAutoApply(_ context.Context) ([]*promo.Code, error) {
	var out []*promo.Code
	for _, c := range m.codes {
		if c.AutoApply {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCodeRepo) RefreshUsageCount(_ context.Context, _ string) error { return nil }

type mockLedger struct{}

func (mockLedger) CountUses(_ context.Context, _ string) (int, error)        { return 0, nil }
func (mockLedger) CountUserUses(_ context.Context, _, _ string) (int, error) { return 0, nil }
func (mockLedger) Commit(_ context.Context, _ promo.Usage) error             { return nil }

type mockOrderCounter struct{}

func (mockOrderCounter) CountPaidOrders(_ context.Context, _ string) (int, error) { return 0, nil }

func eur(s string) money.Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return money.New(d, money.EUR)
}

func newTestPricer(codes map[string]*promo.Code) *Pricer {
	repo := &mockCodeRepo{codes: codes}
	ev := promo.NewEvaluator(repo, mockLedger{}, mockOrderCounter{})
	return NewPricer(ev, repo)
}

func oneSeatCart(t *testing.T, price string) *cart.Cart {
	t.Helper()
	c, err := cart.FromItems([]cart.Item{
		{SessionID: "sess-1", FormationID: "form-go", CategoryID: "cat-prog", UnitPrice: eur(price), Quantity: 1},
	})
	require.NoError(t, err)
	return c
}

func TestPricer_Price_NoCodes(t *testing.T) {
	p := newTestPricer(nil)
	cust := &customer.Customer{ID: "user-1", Role: "all", BillingCountry: "FR"}

	q, err := p.Price(context.Background(), oneSeatCart(t, "1000.00"), cust, nil)
	require.NoError(t, err)

	assert.Equal(t, "1000.00 EUR", q.Subtotal.String())
	assert.Equal(t, "0.00 EUR", q.Discount.String())
	assert.Equal(t, "200.00 EUR", q.Tax.String())
	assert.Equal(t, "1200.00 EUR", q.Total.String())
	assert.Empty(t, q.Applied)
}

func TestPricer_Price_PercentageCode(t *testing.T) {
	p := newTestPricer(map[string]*promo.Code{
		"PROMO10": {
			ID: "c-10", Code: "PROMO10",
			DiscountType:       promo.DiscountPercentage,
			DiscountValue:      decimal.NewFromInt(10),
			MinimumOrderAmount: money.Zero(money.EUR),
			Status:             promo.StatusActive,
		},
	})
	cust := &customer.Customer{ID: "user-1", Role: "all", BillingCountry: "FR"}

	q, err := p.Price(context.Background(), oneSeatCart(t, "1000.00"), cust, []string{"PROMO10"})
	require.NoError(t, err)

	// VAT applies to the discounted amount: (1000 - 100) * 20% = 180.
	assert.Equal(t, "1000.00 EUR", q.Subtotal.String())
	assert.Equal(t, "100.00 EUR", q.Discount.String())
	assert.Equal(t, "180.00 EUR", q.Tax.String())
	assert.Equal(t, "1080.00 EUR", q.Total.String())

	require.Len(t, q.Applied, 1)
	assert.Equal(t, "PROMO10", q.Applied[0].Code)
	assert.Equal(t, "100.00 EUR", q.Applied[0].Discount.String())
}

func TestPricer_Price_NotApplicableSurfacesReason(t *testing.T) {
	p := newTestPricer(map[string]*promo.Code{
		"BIGMIN": {
			ID: "c-min", Code: "BIGMIN",
			DiscountType:       promo.DiscountFixedAmount,
			DiscountValue:      decimal.NewFromInt(25),
			MinimumOrderAmount: eur("2000.00"),
			Status:             promo.StatusActive,
		},
	})
	cust := &customer.Customer{ID: "user-1", Role: "all", BillingCountry: "FR"}

	_, err := p.Price(context.Background(), oneSeatCart(t, "1000.00"), cust, []string{"BIGMIN"})

	var napErr *promo.NotApplicableError
	require.ErrorAs(t, err, &napErr)
	assert.Equal(t, promo.ReasonMinimumNotMet, napErr.Reason)
}

func TestPricer_Price_SequentialStacking(t *testing.T) {
	p := newTestPricer(map[string]*promo.Code{
		"HALF": {
			ID: "c-half", Code: "HALF",
			DiscountType:       promo.DiscountPercentage,
			DiscountValue:      decimal.NewFromInt(50),
			MinimumOrderAmount: money.Zero(money.EUR),
			Stackable:          true,
			Status:             promo.StatusActive,
		},
		"TEN": {
			ID: "c-ten", Code: "TEN",
			DiscountType:       promo.DiscountPercentage,
			DiscountValue:      decimal.NewFromInt(10),
			MinimumOrderAmount: money.Zero(money.EUR),
			Stackable:          true,
			Status:             promo.StatusActive,
		},
	})
	cust := &customer.Customer{ID: "user-1", Role: "all", BillingCountry: "FR"}

	q, err := p.Price(context.Background(), oneSeatCart(t, "100.00"), cust, []string{"HALF", "TEN"})
	require.NoError(t, err)

	// 100 - 50% = 50, then 10% of the remaining 50 = 5. Total discount 55.
	assert.Equal(t, "55.00 EUR", q.Discount.String())
	assert.Equal(t, "9.00 EUR", q.Tax.String())
	assert.Equal(t, "54.00 EUR", q.Total.String())
	require.Len(t, q.Applied, 2)
}

func TestPricer_Price_AutoApplySweep(t *testing.T) {
	p := newTestPricer(map[string]*promo.Code{
		"AUTO5": {
			ID: "c-auto", Code: "AUTO5",
			DiscountType:       promo.DiscountFixedAmount,
			DiscountValue:      decimal.NewFromInt(5),
			MinimumOrderAmount: eur("100.00"),
			AutoApply:          true,
			Stackable:          true,
			Status:             promo.StatusActive,
		},
	})
	cust := &customer.Customer{ID: "user-1", Role: "all", BillingCountry: "FR"}

	q, err := p.Price(context.Background(), oneSeatCart(t, "200.00"), cust, nil)
	require.NoError(t, err)

	assert.Equal(t, "5.00 EUR", q.Discount.String())
	require.Len(t, q.Applied, 1)
	assert.Equal(t, "AUTO5", q.Applied[0].Code)
}

func TestPricer_Price_AutoApplySkippedSilently(t *testing.T) {
	p := newTestPricer(map[string]*promo.Code{
		"AUTO5": {
			ID: "c-auto", Code: "AUTO5",
			DiscountType:       promo.DiscountFixedAmount,
			DiscountValue:      decimal.NewFromInt(5),
			MinimumOrderAmount: eur("500.00"), // not met
			AutoApply:          true,
			Status:             promo.StatusActive,
		},
	})
	cust := &customer.Customer{ID: "user-1", Role: "all", BillingCountry: "FR"}

	q, err := p.Price(context.Background(), oneSeatCart(t, "200.00"), cust, nil)
	require.NoError(t, err)
	assert.True(t, q.Discount.IsZero())
	assert.Empty(t, q.Applied)
}

func TestPricer_Price_EmptyCart(t *testing.T) {
	p := newTestPricer(nil)
	cust := &customer.Customer{ID: "user-1", Role: "all", BillingCountry: "FR"}

	_, err := p.Price(context.Background(), cart.New(), cust, nil)
	assert.ErrorIs(t, err, cart.ErrEmptyCart)
}
