// Package handler exposes the settlement engine over HTTP: checkout,
// the gateway return and webhook endpoints, and the admin order surface.
package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/pixfil/masterclass-orders/internal/domain/auth"
	"github.com/pixfil/masterclass-orders/internal/domain/catalog"
	"github.com/pixfil/masterclass-orders/internal/domain/order"
	"github.com/pixfil/masterclass-orders/internal/domain/promo"
	"github.com/pixfil/masterclass-orders/internal/gateway"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// SuccessURL and CancelURL are where the synchronous gateway return
	// sends the customer's browser. The return never mutates state beyond
	// what the idempotent notice application allows.
	SuccessURL string
	CancelURL  string
}

// Handler wires the HTTP surface to the domain services.
type Handler struct {
	cfg       Config
	checkout  *order.Service
	lifecycle *order.Lifecycle
	gateway   *gateway.Adapter
	sessions  catalog.Repository
	orders    order.Repository
	promos    promo.Repository
	apikeys   auth.Repository
	pepper    []byte
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	checkout *order.Service,
	lifecycle *order.Lifecycle,
	gw *gateway.Adapter,
	sessions catalog.Repository,
	orders order.Repository,
	promos promo.Repository,
	apikeys auth.Repository,
	pepper []byte,
) *Handler {
	return &Handler{
		cfg:       cfg,
		checkout:  checkout,
		lifecycle: lifecycle,
		gateway:   gw,
		sessions:  sessions,
		orders:    orders,
		promos:    promos,
		apikeys:   apikeys,
		pepper:    pepper,
	}
}

// Routes builds the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/sessions", h.ListSessions)
	r.Post("/checkout", h.Checkout)
	r.Post("/orders/{number}/cancel", h.CancelOrder)

	r.Get("/payment/return", h.PaymentReturn)
	r.Post("/payment/return", h.PaymentReturn)
	r.Post("/payment/webhook", h.PaymentWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.RequireAPIKey)
		r.Get("/orders/{number}", h.GetOrder)
		r.Patch("/orders/{number}/status", h.UpdateOrderStatus)
		r.Patch("/orders/{number}/payment-status", h.UpdatePaymentStatus)
		r.Post("/promos/{id}/refresh-usage", h.RefreshPromoUsage)
	})

	return r
}
