package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// writeJSON encodes the response with jx and writes it with the given
// status. Encoding errors at this point can only be I/O faults; they are
// logged, not surfaced.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("Writing response", zap.Error(err))
	}
}

// writeError writes the standard error envelope {"code": ..., "message": ...}.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}
