package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/pixfil/masterclass-orders/internal/domain/order"
	"github.com/pixfil/masterclass-orders/internal/gateway"
)

// PaymentReturn handles the synchronous gateway return: the customer's
// browser landing back after the 3-D Secure challenge. It applies the
// notice idempotently (the webhook may already have settled the order, or
// may still be in flight) and only decides where to send the browser. It
// is never the sole trigger of state mutation.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, h.cfg.CancelURL, http.StatusFound)
		return
	}

	notice, err := h.gateway.ParseNotification(r.Context(), r.Form)
	if err != nil {
		lg.Warn("Invalid gateway return", zap.Error(err))
		http.Redirect(w, r, h.cfg.CancelURL, http.StatusFound)
		return
	}

	outcome, err := h.lifecycle.ApplyNotice(r.Context(), *notice)
	if err != nil {
		// The webhook is authoritative; the browser still needs somewhere
		// to go.
		lg.Error("Applying return notice", zap.Error(err))
		http.Redirect(w, r, h.cfg.CancelURL, http.StatusFound)
		return
	}

	if notice.Succeeded && !outcome.Flagged {
		http.Redirect(w, r, h.cfg.SuccessURL+"?order="+notice.OrderNumber, http.StatusFound)
		return
	}
	http.Redirect(w, r, h.cfg.CancelURL+"?order="+notice.OrderNumber, http.StatusFound)
}

// PaymentWebhook handles the authoritative asynchronous notification.
// After the signature check passes it always acknowledges with 200 — even
// on internal fault — so the gateway stops retrying; only a seal or shape
// failure returns 4xx.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed payload")
		return
	}

	notice, err := h.gateway.ParseNotification(r.Context(), r.Form)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidSeal), errors.Is(err, gateway.ErrUnknownKeyVersion):
			lg.Warn("Webhook seal verification failed", zap.Error(err))
			writeError(w, r, http.StatusBadRequest, "invalid signature")
		default:
			lg.Warn("Malformed webhook payload", zap.Error(err))
			writeError(w, r, http.StatusBadRequest, "malformed payload")
		}
		return
	}

	outcome, err := h.lifecycle.ApplyNotice(r.Context(), *notice)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, order.ErrPaymentNotFound):
			// Notifications never create orders. Acknowledge so the
			// gateway stops retrying; an operator follows up from logs.
			lg.Warn("Webhook for unknown order",
				zap.String("order", notice.OrderNumber),
				zap.String("transaction_id", notice.TransactionID))
		default:
			lg.Error("Applying webhook notice", zap.Error(err))
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	if outcome.Replay {
		lg.Info("Webhook replay acknowledged", zap.String("order", notice.OrderNumber))
	}
	w.WriteHeader(http.StatusOK)
}
