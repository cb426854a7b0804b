package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixfil/masterclass-orders/internal/domain/auth"
	"github.com/pixfil/masterclass-orders/internal/domain/catalog"
	"github.com/pixfil/masterclass-orders/internal/domain/customer"
	"github.com/pixfil/masterclass-orders/internal/domain/order"
	"github.com/pixfil/masterclass-orders/internal/domain/promo"
	"github.com/pixfil/masterclass-orders/internal/gateway"
	"github.com/pixfil/masterclass-orders/internal/money"
)

const testPepper = "test-pepper"

func eur(s string) money.Money {
	return money.New(decimal.RequireFromString(s), money.EUR)
}

type stubOrderRepo struct {
	order   *order.Order
	payment *order.Payment

	settled  int
	failures int
}

func (s *stubOrderRepo) Create(_ context.Context, o *order.Order) error {
	s.order = o
	return nil
}

func (s *stubOrderRepo) GetByNumber(_ context.Context, number string) (*order.Order, error) {
	if s.order == nil || s.order.Number != number {
		return nil, order.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *stubOrderRepo) CountPaidOrders(_ context.Context, _ string) (int, error) { return 0, nil }

func (s *stubOrderRepo) CreatePayment(_ context.Context, p *order.Payment) error {
	s.payment = p
	return nil
}

func (s *stubOrderRepo) FindPaymentByTransactionID(_ context.Context, txnID string) (*order.Payment, error) {
	if s.payment == nil || s.payment.TransactionID != txnID {
		return nil, order.ErrPaymentNotFound
	}
	return s.payment, nil
}

func (s *stubOrderRepo) Settle(_ context.Context, _ order.Settlement) error {
	s.settled++
	s.payment.Status = order.AttemptPaid
	s.order.Status = order.StatusConfirmed
	s.order.PaymentStatus = order.PaymentPaid
	return nil
}

func (s *stubOrderRepo) RecordFailure(_ context.Context, _ order.Failure) error {
	s.failures++
	s.payment.Status = order.AttemptFailed
	return nil
}

func (s *stubOrderRepo) MarkReview(_ context.Context, _, _ string) error { return nil }

func (s *stubOrderRepo) UpdateStatus(_ context.Context, _ string, st order.Status) error {
	s.order.Status = st
	return nil
}

func (s *stubOrderRepo) UpdatePaymentStatus(_ context.Context, _ string, st order.PaymentStatus) error {
	s.order.PaymentStatus = st
	return nil
}

func (s *stubOrderRepo) ListRegistrations(_ context.Context, _ string) ([]order.Registration, error) {
	return nil, nil
}

type stubAPIKeys struct {
	hash string
}

func (s *stubAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if hash != s.hash {
		return nil, auth.ErrAPIKeyNotFound
	}
	return &auth.APIKeyInfo{ID: "admin", KeyHash: hash, Name: "test"}, nil
}

type stubSessions struct{}

func (stubSessions) GetByID(_ context.Context, _ string) (*catalog.Session, error) {
	return nil, catalog.ErrSessionNotFound
}

func (stubSessions) GetByIDs(_ context.Context, ids []string) ([]catalog.Session, error) {
	out := make([]catalog.Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, catalog.Session{
			ID: id, FormationID: "form-go", CategoryID: "cat-prog",
			Title: "Go Fundamentals", Price: eur("500.00"), Capacity: 20,
		})
	}
	return out, nil
}

func (stubSessions) List(_ context.Context) ([]catalog.Session, error) {
	return []catalog.Session{
		{ID: "sess-1", Title: "Go Fundamentals", Price: eur("500.00"), Capacity: 20},
	}, nil
}

type stubDirectory struct{}

func (stubDirectory) GetByID(_ context.Context, id string) (*customer.Customer, error) {
	if id != "user-1" {
		return nil, customer.ErrCustomerNotFound
	}
	return &customer.Customer{ID: id, Role: "all", BillingCountry: "FR"}, nil
}

type stubPromoRepo struct {
	codes     map[string]*promo.Code
	refreshed []string
}

func (s *stubPromoRepo) FindByCode(_ context.Context, code string) (*promo.Code, error) {
	c, ok := s.codes[code]
	if !ok {
		return nil, promo.ErrCodeNotFound
	}
	return c, nil
}

func (s *stubPromoRepo) ListAutoApply(_ context.Context) ([]*promo.Code, error) { return nil, nil }

func (s *stubPromoRepo) RefreshUsageCount(_ context.Context, codeID string) error {
	s.refreshed = append(s.refreshed, codeID)
	return nil
}

type stubLedger struct{}

func (stubLedger) CountUses(_ context.Context, _ string) (int, error)        { return 0, nil }
func (stubLedger) CountUserUses(_ context.Context, _, _ string) (int, error) { return 0, nil }
func (stubLedger) Commit(_ context.Context, _ promo.Usage) error             { return nil }

type noopNotifier struct{}

func (noopNotifier) OrderConfirmed(_ context.Context, _ *order.Order)          {}
func (noopNotifier) PaymentFailed(_ context.Context, _ *order.Order, _ string) {}
func (noopNotifier) OrderCancelled(_ context.Context, _ *order.Order)          {}

type fixture struct {
	handler *Handler
	router  http.Handler
	orders  *stubOrderRepo
	promos  *stubPromoRepo
	gateway *gateway.Adapter
}

func newFixture(t *testing.T, promoCodes map[string]*promo.Code) *fixture {
	t.Helper()

	orders := &stubOrderRepo{}
	promoRepo := &stubPromoRepo{codes: promoCodes}
	evaluator := promo.NewEvaluator(promoRepo, stubLedger{}, orders)
	pricer := order.NewPricer(evaluator, promoRepo)
	lifecycle := order.NewLifecycle(orders, noopNotifier{})

	gw := gateway.NewAdapter(gateway.Config{
		Endpoint:   "https://gateway.example",
		MerchantID: "211000021310001",
		Secrets:    gateway.Secrets{"1": "secret-one"},
		KeyVersion: "1",
		Timeout:    time.Second,
	})

	checkout := order.NewService(stubSessions{}, stubDirectory{}, pricer, orders, gw)

	mac := hmac.New(sha256.New, []byte(testPepper))
	mac.Write([]byte("valid-key"))
	apikeys := &stubAPIKeys{hash: hex.EncodeToString(mac.Sum(nil))}

	h := New(
		Config{SuccessURL: "/checkout/success", CancelURL: "/checkout/cancel"},
		checkout, lifecycle, gw, stubSessions{}, orders, promoRepo, apikeys, []byte(testPepper),
	)
	return &fixture{handler: h, router: h.Routes(), orders: orders, promos: promoRepo, gateway: gw}
}

func (f *fixture) placedOrder() {
	f.orders.order = &order.Order{
		ID:            "order-1",
		Number:        "ORD-20260615-ABCD",
		UserID:        "user-1",
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Subtotal:      eur("1000.00"),
		Discount:      eur("0.00"),
		Tax:           eur("200.00"),
		Total:         eur("1200.00"),
		Items: []order.Item{
			{ID: "item-1", SessionID: "sess-1", Title: "Go Fundamentals", UnitPrice: eur("500.00"), Quantity: 2},
		},
	}
	f.orders.payment = &order.Payment{
		ID: "pay-1", OrderID: "order-1", TransactionID: "TXN123",
		Amount: eur("1200.00"), Status: order.AttemptPending,
	}
}

func (f *fixture) signedWebhookForm(t *testing.T, fields map[string]string) string {
	t.Helper()
	form, err := f.gateway.SignNotification(fields, "1")
	require.NoError(t, err)
	return form.Encode()
}

func webhookFields(responseCode string) map[string]string {
	return map[string]string{
		"orderId":              "ORD-20260615-ABCD",
		"transactionReference": "TXN123",
		"responseCode":         responseCode,
		"holderAuthentStatus":  "SUCCESS",
		"keyVersion":           "1",
	}
}

func postForm(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPaymentWebhook_SettlesOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.placedOrder()

	rec := postForm(f.router, "/payment/webhook", f.signedWebhookForm(t, webhookFields("00")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.orders.settled)
	assert.Equal(t, order.PaymentPaid, f.orders.order.PaymentStatus)
}

func TestPaymentWebhook_ReplayAcknowledged(t *testing.T) {
	f := newFixture(t, nil)
	f.placedOrder()

	body := f.signedWebhookForm(t, webhookFields("00"))

	first := postForm(f.router, "/payment/webhook", body)
	assert.Equal(t, http.StatusOK, first.Code)

	second := postForm(f.router, "/payment/webhook", body)
	assert.Equal(t, http.StatusOK, second.Code)

	// One state change total.
	assert.Equal(t, 1, f.orders.settled)
}

func TestPaymentWebhook_FailureRecorded(t *testing.T) {
	f := newFixture(t, nil)
	f.placedOrder()

	rec := postForm(f.router, "/payment/webhook", f.signedWebhookForm(t, webhookFields("05")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.orders.settled)
	assert.Equal(t, 1, f.orders.failures)
}

func TestPaymentWebhook_TamperedSealRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.placedOrder()

	form, err := f.gateway.SignNotification(webhookFields("00"), "1")
	require.NoError(t, err)
	form.Set("Seal", "deadbeef")

	rec := postForm(f.router, "/payment/webhook", form.Encode())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.orders.settled)
}

func TestPaymentWebhook_UnknownOrderAcknowledged(t *testing.T) {
	f := newFixture(t, nil) // no order placed

	rec := postForm(f.router, "/payment/webhook", f.signedWebhookForm(t, webhookFields("00")))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentReturn_RedirectsOnSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.placedOrder()

	rec := postForm(f.router, "/payment/return", f.signedWebhookForm(t, webhookFields("00")))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/checkout/success?order=ORD-20260615-ABCD", rec.Header().Get("Location"))
	// The return applies the notice too when the webhook has not yet.
	assert.Equal(t, 1, f.orders.settled)
}

func TestPaymentReturn_RedirectsToCancelOnInvalidSeal(t *testing.T) {
	f := newFixture(t, nil)
	f.placedOrder()

	form, err := f.gateway.SignNotification(webhookFields("00"), "1")
	require.NoError(t, err)
	form.Set("Seal", "deadbeef")

	rec := postForm(f.router, "/payment/return", form.Encode())

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/checkout/cancel", rec.Header().Get("Location"))
	assert.Equal(t, 0, f.orders.settled)
}

func postJSON(router http.Handler, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCheckout_RejectsInvalidBody(t *testing.T) {
	f := newFixture(t, nil)

	rec := postJSON(f.router, "/checkout", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckout_RejectsUnknownPromoCodeWithReason(t *testing.T) {
	f := newFixture(t, nil)

	body := `{
		"customer_id": "user-1",
		"items": [{"session_id": "sess-1", "formation_id": "form-go", "category_id": "cat-prog", "unit_price": "500.00", "quantity": 1}],
		"promo_codes": ["BOGUS"]
	}`
	rec := postJSON(f.router, "/checkout", body, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Reason string
	}
	d := jx.DecodeBytes(rec.Body.Bytes())
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		if key == "reason" {
			v, err := d.Str()
			resp.Reason = v
			return err
		}
		return d.Skip()
	}))
	assert.Equal(t, string(promo.ReasonNotFound), resp.Reason)
}

func TestCheckout_RejectsUnknownCustomer(t *testing.T) {
	f := newFixture(t, nil)

	body := `{
		"customer_id": "ghost",
		"items": [{"session_id": "sess-1", "unit_price": "500.00", "quantity": 1}]
	}`
	rec := postJSON(f.router, "/checkout", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAdminRoutes_RequireAPIKey(t *testing.T) {
	f := newFixture(t, nil)
	f.placedOrder()

	t.Run("missing key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/orders/ORD-20260615-ABCD", nil)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/orders/ORD-20260615-ABCD", nil)
		req.Header.Set("X-API-Key", "wrong-key")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/orders/ORD-20260615-ABCD", nil)
		req.Header.Set("X-API-Key", "valid-key")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAdminUpdateStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.placedOrder()
	header := map[string]string{"X-API-Key": "valid-key"}

	patch := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", header["X-API-Key"])
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	rec := patch("/admin/orders/ORD-20260615-ABCD/status", `{"status": "processing"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.StatusProcessing, f.orders.order.Status)

	rec = patch("/admin/orders/ORD-20260615-ABCD/status", `{"status": "shipped"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = patch("/admin/orders/ORD-404/status", `{"status": "processing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUpdatePaymentStatus_ManualRefund(t *testing.T) {
	f := newFixture(t, nil)
	f.placedOrder()
	f.orders.order.PaymentStatus = order.PaymentPaid

	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/ORD-20260615-ABCD/payment-status",
		strings.NewReader(`{"payment_status": "refunded"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.PaymentRefunded, f.orders.order.PaymentStatus)
}

func TestAdminRefreshPromoUsage(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/promos/promo-1/refresh-usage", nil)
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"promo-1"}, f.promos.refreshed)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.placedOrder()

	rec := postJSON(f.router, "/orders/ORD-20260615-ABCD/cancel", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.StatusCancelled, f.orders.order.Status)

	// Terminal orders cannot be cancelled again.
	rec = postJSON(f.router, "/orders/ORD-20260615-ABCD/cancel", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = postJSON(f.router, "/orders/ORD-404/cancel", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
