package auth

import (
	"net/http"
	"strings"
	"time"
)

const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"

	AccessTokenMaxAge  = 60 * 60
	RefreshTokenMaxAge = 60 * 60 * 24 * 7

	authHeader = "Authorization"
	bearer     = "Bearer "
)

// TokenStore reads session credentials from a request and writes them back as cookies.
type TokenStore struct {
	// Secure marks written cookies Secure. Off only for local development.
	Secure bool
}

// AccessToken returns the access token from its cookie, falling back to an
// Authorization bearer header. Empty means absent.
func (TokenStore) AccessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return bearerToken(r.Header.Get(authHeader))
}

// RefreshToken returns the refresh token cookie. Headers are never consulted.
func (TokenStore) RefreshToken(r *http.Request) string {
	c, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// Credentials reads both tokens.
func (s TokenStore) Credentials(r *http.Request) Credentials {
	return Credentials{
		AccessToken:  s.AccessToken(r),
		RefreshToken: s.RefreshToken(r),
	}
}

// WriteSession persists a new credential pair. The previous refresh token is
// replaced, never kept alongside.
func (s TokenStore) WriteSession(w http.ResponseWriter, session Session) {
	http.SetCookie(w, s.cookie(AccessTokenCookie, session.AccessToken, AccessTokenMaxAge))
	http.SetCookie(w, s.cookie(RefreshTokenCookie, session.RefreshToken, RefreshTokenMaxAge))
}

// Clear expires both session cookies.
func (s TokenStore) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := s.cookie(name, "", -1)
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func (s TokenStore) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
