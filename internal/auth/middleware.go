package auth

import (
	"net/http"
	"strings"

	"github.com/tommygebru/kiekky-engagement/internal/common"
)

// Middleware handles authentication middleware
type Middleware struct {
	verifier Verifier
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(verifier Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// Authenticate middleware validates JWT token and sets user context
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			common.Unauthorized(w, "Authorization header required")
			return
		}

		claims, err := m.verifier.ValidateAccessToken(token)
		if err != nil {
			common.Unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := common.SetUserContext(r.Context(), claims.UserID, claims.Username, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken reads the token from the Authorization header, falling back to
// the token query parameter because browsers cannot set headers on WebSocket upgrades.
func BearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}
