package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/pixfil/masterclass-orders/internal/domain/order"
)

// GetOrder returns the full order with its registrations.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	o, err := h.orders.GetByNumber(r.Context(), number)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeError(w, r, http.StatusNotFound, "order not found")
			return
		}
		zctx.From(r.Context()).Error("Get order", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	regs, err := h.orders.ListRegistrations(r.Context(), o.ID)
	if err != nil {
		zctx.From(r.Context()).Error("List registrations", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o, regs)
	})
}

// UpdateOrderStatus applies an administrative fulfillment edit. Only enum
// membership is validated; fulfillment milestones are orthogonal to the
// payment state.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.lifecycle.AdminSetStatus(r.Context(), number, order.Status(body.Status))
	if err != nil {
		h.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o, nil)
	})
}

// UpdatePaymentStatus applies an administrative payment-status edit, e.g.
// a manual refund (paid -> refunded), validated against the payment
// transition table.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	var body struct {
		PaymentStatus string `json:"payment_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.lifecycle.AdminSetPaymentStatus(r.Context(), number, order.PaymentStatus(body.PaymentStatus))
	if err != nil {
		h.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o, nil)
	})
}

// RefreshPromoUsage recomputes a code's cached usage counter from the
// ledger rows. The cache is advisory; enforcement stays in the ledger
// commit, so the refresh is always safe to run.
func (h *Handler) RefreshPromoUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.promos.RefreshUsageCount(r.Context(), id); err != nil {
		zctx.From(r.Context()).Error("Refresh promo usage", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		writeError(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrInvalidTransition):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		zctx.From(r.Context()).Error("Admin order edit", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// encodeOrder writes the order JSON representation, with registrations
// when provided.
func encodeOrder(e *jx.Encoder, o *order.Order, regs []order.Registration) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_number", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("subtotal", func(e *jx.Encoder) { e.Str(o.Subtotal.Amount().StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(o.Discount.Amount().StringFixed(2)) })
		e.Field("tax", func(e *jx.Encoder) { e.Str(o.Tax.Amount().StringFixed(2)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.Amount().StringFixed(2)) })
		e.Field("needs_review", func(e *jx.Encoder) { e.Bool(o.NeedsReview) })

		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, item := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("session_id", func(e *jx.Encoder) { e.Str(item.SessionID) })
						e.Field("title", func(e *jx.Encoder) { e.Str(item.Title) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(item.UnitPrice.Amount().StringFixed(2)) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
					})
				}
			})
		})

		e.Field("applied_codes", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, ac := range o.AppliedCodes {
					e.Obj(func(e *jx.Encoder) {
						e.Field("code", func(e *jx.Encoder) { e.Str(ac.Code) })
						e.Field("discount", func(e *jx.Encoder) { e.Str(ac.Discount.Amount().StringFixed(2)) })
					})
				}
			})
		})

		if regs != nil {
			e.Field("registrations", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, reg := range regs {
						e.Obj(func(e *jx.Encoder) {
							e.Field("id", func(e *jx.Encoder) { e.Str(reg.ID) })
							e.Field("session_id", func(e *jx.Encoder) { e.Str(reg.SessionID) })
							e.Field("status", func(e *jx.Encoder) { e.Str(string(reg.Status)) })
							e.Field("certificate_issued", func(e *jx.Encoder) { e.Bool(reg.CertificateIssued) })
						})
					}
				})
			})
		}
	})
}
