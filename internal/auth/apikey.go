package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// APIKeyMiddleware accepts any of a fixed set of keys. Only key hashes are
// held in memory.
type APIKeyMiddleware struct {
	headerName string
	hashes     [][]byte
}

func NewAPIKeyMiddleware(headerName string, keys []string) *APIKeyMiddleware {
	m := &APIKeyMiddleware{headerName: headerName}
	for _, k := range keys {
		if k == "" {
			continue
		}
		h := sha256.Sum256([]byte(k))
		m.hashes = append(m.hashes, h[:])
	}
	return m
}

// Authenticate passes requests without the header through untouched so the
// JWT middleware can try next.
func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(m.headerName)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		sum := sha256.Sum256([]byte(key))
		matched := 0
		for _, h := range m.hashes {
			matched |= subtle.ConstantTimeCompare(sum[:], h)
		}
		if matched != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		p := &Principal{Subject: "apikey:" + HashAPIKey(key)[:12], Role: RoleService}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
