// Package auth verifies identity tokens minted by the external identity
// service. Issue exists for local runs and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gosuda/inkboard/internal/domain"
)

const issuer = "inkboard"

// Claims holds the JWT token payload.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string `json:"tid"`
	UserID      string `json:"uid"`
	DisplayName string `json:"name,omitempty"`
}

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Verifier turns bearer tokens into identities. It is safe for concurrent use.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

// Verify validates the token and returns the identity it carries.
func (v *Verifier) Verify(token string) (domain.Identity, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Identity{}, fmt.Errorf("auth.Verifier.Verify: %w", ErrInvalidToken)
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("auth.Verifier.Verify: tenant: %w", ErrInvalidToken)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("auth.Verifier.Verify: user: %w", ErrInvalidToken)
	}

	return domain.Identity{TenantID: tenantID, UserID: userID, DisplayName: claims.DisplayName}, nil
}

// Issue signs an access token for ident.
func (v *Verifier) Issue(ident domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
			Subject:   ident.UserID.String(),
		},
		TenantID:    ident.TenantID.String(),
		UserID:      ident.UserID.String(),
		DisplayName: ident.DisplayName,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth.Verifier.Issue: %w", err)
	}

	return signed, nil
}
