package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/inkboard/internal/domain"
)

// TokenVerifier resolves a bearer token to the caller's identity.
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// Auth requires a valid identity token. Browsers cannot set headers on a
// websocket upgrade, so the access_token query parameter is accepted as well.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractBearer(r)
			if tok == "" {
				tok = r.URL.Query().Get("access_token")
			}
			if tok == "" {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing credentials"}`, http.StatusUnauthorized)
				return
			}

			ident, err := verifier.Verify(tok)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("auth: token rejected")
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"invalid credentials"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
