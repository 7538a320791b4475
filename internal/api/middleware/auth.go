package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/vidvault/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// Auth checks the admin bearer token against a bcrypt hash.
type Auth struct {
	tokenHash []byte
}

// NewAuth creates a new Auth middleware. With an empty hash every protected
// request is refused.
func NewAuth(tokenHash string) *Auth {
	return &Auth{tokenHash: []byte(tokenHash)}
}

// Authenticate validates the Bearer token and records the caller's address in
// the request context for rate limiting.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.tokenHash) == 0 {
			response.Error(w, http.StatusForbidden,
				"ADMIN_DISABLED", "The admin API is not configured", nil)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid admin token", nil)
			return
		}

		r = r.WithContext(setClient(r.Context(), clientAddr(r)))
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
