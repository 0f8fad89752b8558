package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequireTenant rejects identities that carry no tenant or user.
func RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := IdentityFromContext(r.Context())
			if !ok || ident.TenantID == uuid.Nil || ident.UserID == uuid.Nil {
				http.Error(w, `{"title":"Forbidden","status":403,"detail":"valid tenant required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
