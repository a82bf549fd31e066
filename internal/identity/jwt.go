package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/psiconnect/backoffice/internal/auth"
)

// Claims are the access-token claims the provider signs.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier validates provider access tokens offline with the project's
// HS256 secret. It cannot observe server-side revocation.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

var _ auth.IdentityVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier builds a verifier. issuer and audience are checked when non-empty.
func NewJWTVerifier(secret, issuer, audience string) (*JWTVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("identity: jwt secret is not configured")
	}
	return &JWTVerifier{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		now:      time.Now,
	}, nil
}

// Verify checks signature, expiry and subject.
func (v *JWTVerifier) Verify(_ context.Context, accessToken string) (auth.Identity, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return auth.Identity{}, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(5 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.ParseWithClaims(accessToken, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return auth.Identity{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return auth.Identity{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	if claims.Role == "anon" {
		return auth.Identity{}, fmt.Errorf("%w: anonymous token", ErrInvalidToken)
	}
	return auth.Identity{ID: claims.Subject, Email: claims.Email}, nil
}
