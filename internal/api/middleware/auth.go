package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const callerContextKey contextKey = "caller"

// CallerFromContext returns the authenticated caller id, or "" when the
// request was not authenticated.
func CallerFromContext(ctx context.Context) string {
	c, _ := ctx.Value(callerContextKey).(string)
	return c
}

// APIKeyAuth accepts bearer keys from a fixed list and attaches a caller id
// derived from the key. With no keys configured every request passes as
// "anonymous".
func APIKeyAuth(keys []string) func(http.Handler) http.Handler {
	hashes := make([][]byte, 0, len(keys))
	for _, k := range keys {
		h := sha256.Sum256([]byte(k))
		hashes = append(hashes, h[:])
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(hashes) == 0 {
				ctx := context.WithValue(r.Context(), callerContextKey, "anonymous")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			sum := sha256.Sum256([]byte(parts[1]))
			matched := 0
			for _, h := range hashes {
				matched |= subtle.ConstantTimeCompare(sum[:], h)
			}
			if matched != 1 {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), callerContextKey, CallerID(parts[1]))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerID is the loggable identity of an API key: a short hash prefix.
func CallerID(key string) string {
	h := sha256.Sum256([]byte(key))
	return "key_" + hex.EncodeToString(h[:])[:12]
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
