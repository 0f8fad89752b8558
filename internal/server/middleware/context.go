package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/domain"
)

type contextKey string

const contextKeyIdentity contextKey = "identity"

// WithIdentity returns a copy of ctx carrying ident.
func WithIdentity(ctx context.Context, ident domain.Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, ident)
}

func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	v, ok := ctx.Value(contextKeyIdentity).(domain.Identity)
	return v, ok
}

func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	ident, ok := IdentityFromContext(ctx)
	return ident.TenantID, ok
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	ident, ok := IdentityFromContext(ctx)
	return ident.UserID, ok
}
