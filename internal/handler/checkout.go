package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pixfil/masterclass-orders/internal/domain/cart"
	"github.com/pixfil/masterclass-orders/internal/domain/customer"
	"github.com/pixfil/masterclass-orders/internal/domain/order"
	"github.com/pixfil/masterclass-orders/internal/domain/promo"
	"github.com/pixfil/masterclass-orders/internal/gateway"
	"github.com/pixfil/masterclass-orders/internal/money"
)

// checkoutRequest is the POST /checkout body: a cart snapshot with the
// prices captured at add-to-cart time, plus optional promo codes.
type checkoutRequest struct {
	CustomerID string         `json:"customer_id"`
	Items      []checkoutItem `json:"items"`
	PromoCodes []string       `json:"promo_codes,omitempty"`
}

type checkoutItem struct {
	SessionID   string `json:"session_id"`
	FormationID string `json:"formation_id"`
	CategoryID  string `json:"category_id"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

// Checkout converts the cart snapshot into a pending order and returns
// the gateway redirect.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]cart.Item, 0, len(req.Items))
	for _, it := range req.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil || price.IsNegative() {
			writeError(w, r, http.StatusBadRequest, "invalid unit price for session "+it.SessionID)
			return
		}
		items = append(items, cart.Item{
			SessionID:   it.SessionID,
			FormationID: it.FormationID,
			CategoryID:  it.CategoryID,
			UnitPrice:   money.New(price, money.EUR),
			Quantity:    it.Quantity,
		})
	}

	result, err := h.checkout.Checkout(r.Context(), order.CheckoutRequest{
		CustomerID: req.CustomerID,
		Items:      items,
		PromoCodes: req.PromoCodes,
	})
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}

	o := result.Order
	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order_number", func(e *jx.Encoder) { e.Str(o.Number) })
			e.Field("redirect_url", func(e *jx.Encoder) { e.Str(result.RedirectURL) })
			e.Field("subtotal", func(e *jx.Encoder) { e.Str(o.Subtotal.Amount().StringFixed(2)) })
			e.Field("discount", func(e *jx.Encoder) { e.Str(o.Discount.Amount().StringFixed(2)) })
			e.Field("tax", func(e *jx.Encoder) { e.Str(o.Tax.Amount().StringFixed(2)) })
			e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.Amount().StringFixed(2)) })
		})
	})
}

// writeCheckoutError maps domain errors to HTTP responses with reasons the
// storefront can render.
func (h *Handler) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var na *promo.NotApplicableError
	if errors.As(err, &na) {
		writeJSON(w, r, http.StatusUnprocessableEntity, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusUnprocessableEntity) })
				e.Field("message", func(e *jx.Encoder) { e.Str(na.Error()) })
				e.Field("reason", func(e *jx.Encoder) { e.Str(string(na.Reason)) })
			})
		})
		return
	}

	var snf *order.SessionNotFoundError
	switch {
	case errors.Is(err, cart.ErrEmptyCart):
		writeError(w, r, http.StatusBadRequest, "items required")
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, r, http.StatusUnprocessableEntity, "quantity must be greater than 0")
	case errors.As(err, &snf):
		writeError(w, r, http.StatusUnprocessableEntity, snf.Error())
	case errors.Is(err, order.ErrNoCapacity):
		writeError(w, r, http.StatusUnprocessableEntity, "not enough seats left")
	case errors.Is(err, order.ErrCustomerRequired):
		writeError(w, r, http.StatusBadRequest, "customer_id required")
	case errors.Is(err, customer.ErrCustomerNotFound):
		writeError(w, r, http.StatusUnprocessableEntity, "unknown customer")
	case errors.Is(err, order.ErrNegativeTotal):
		writeError(w, r, http.StatusUnprocessableEntity, "discount exceeds order amount")
	case errors.Is(err, gateway.ErrTimeout):
		writeError(w, r, http.StatusBadGateway, "payment gateway unavailable, please retry")
	default:
		zctx.From(r.Context()).Error("Checkout failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// CancelOrder cancels a still-cancellable order. Any paid payment status
// is left untouched; refunds are a separate administrative action.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	o, err := h.lifecycle.Cancel(r.Context(), number)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			writeError(w, r, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrInvalidTransition):
			writeError(w, r, http.StatusUnprocessableEntity, "order can no longer be cancelled")
		default:
			zctx.From(r.Context()).Error("Cancel failed", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o, nil)
	})
}
