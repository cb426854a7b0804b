package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// ListSessions returns the upcoming training sessions with remaining
// capacity, for the storefront catalog page.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("List sessions", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, s := range sessions {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
					e.Field("formation_id", func(e *jx.Encoder) { e.Str(s.FormationID) })
					e.Field("category_id", func(e *jx.Encoder) { e.Str(s.CategoryID) })
					e.Field("title", func(e *jx.Encoder) { e.Str(s.Title) })
					e.Field("price", func(e *jx.Encoder) { e.Str(s.Price.Amount().StringFixed(2)) })
					e.Field("seats_left", func(e *jx.Encoder) { e.Int(s.SeatsLeft()) })
					e.Field("starts_at", func(e *jx.Encoder) { e.Str(s.StartsAt.Format(time.RFC3339)) })
				})
			}
		})
	})
}
