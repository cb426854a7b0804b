package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// RequireAPIKey authenticates admin requests via HMAC-SHA256 hashed API
// keys: the provided key is hashed under the configured pepper, looked up,
// and compared in constant time to prevent timing attacks.
func (h *Handler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		mac := hmac.New(sha256.New, h.pepper)
		mac.Write([]byte(key))
		hash := mac.Sum(nil)

		info, err := h.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		storedBytes, err := hex.DecodeString(info.KeyHash)
		if err != nil || subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
