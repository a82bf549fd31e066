// Package identity talks to the hosted identity provider (a GoTrue-compatible
// auth REST API) on behalf of the back office.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/psiconnect/backoffice/internal/auth"
	"github.com/psiconnect/backoffice/internal/obs"
)

const (
	userAgent       = "backoffice/identity"
	maxResponseSize = 64 * 1024
	defaultTimeout  = 10 * time.Second
)

var (
	// ErrInvalidToken is returned when the provider rejects an access token.
	ErrInvalidToken = fmt.Errorf("identity: invalid token: %w", auth.ErrVerificationFailed)
	// ErrInvalidRefreshToken is returned when the provider rejects a refresh token.
	ErrInvalidRefreshToken = fmt.Errorf("identity: invalid refresh token: %w", auth.ErrRefreshFailed)
	// ErrInvalidCredentials is returned for a failed password sign-in.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrUserNotFound is returned by admin user operations for unknown ids.
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrProvider wraps any other provider failure.
	ErrProvider = errors.New("identity: provider error")
)

// User is the provider's view of an account.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastSignInAt *time.Time     `json:"last_sign_in_at,omitempty"`
}

// UserAttributes are the mutable fields of an account.
type UserAttributes struct {
	Email        *string        `json:"email,omitempty"`
	Password     *string        `json:"password,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

func (r sessionResponse) session() auth.Session {
	return auth.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    r.ExpiresIn,
		User:         auth.Identity{ID: r.User.ID, Email: r.User.Email},
	}
}

// Client calls the provider's REST API. It never retries: every call is a
// single round trip whose failure is final for the current request.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	http       *http.Client
}

var (
	_ auth.IdentityVerifier = (*Client)(nil)
	_ auth.SessionRefresher = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithServiceRoleKey enables admin user operations.
func WithServiceRoleKey(key string) Option {
	return func(c *Client) { c.serviceKey = strings.TrimSpace(key) }
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// NewClient builds a client for the provider at baseURL.
func NewClient(baseURL, anonKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("identity: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("identity: parse base url: %w", err)
	}
	if strings.TrimSpace(anonKey) == "" {
		return nil, errors.New("identity: anon key is required")
	}
	c := &Client{
		baseURL: baseURL,
		anonKey: anonKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Verify asks the provider which user the access token belongs to.
func (c *Client) Verify(ctx context.Context, accessToken string) (auth.Identity, error) {
	if strings.TrimSpace(accessToken) == "" {
		return auth.Identity{}, ErrInvalidToken
	}
	var user User
	status, err := c.do(ctx, "verify", http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &user)
	if err != nil {
		if isAuthStatus(status) {
			return auth.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return auth.Identity{}, err
	}
	if user.ID == "" {
		return auth.Identity{}, fmt.Errorf("%w: no user for token", ErrInvalidToken)
	}
	return auth.Identity{ID: user.ID, Email: user.Email}, nil
}

// Refresh exchanges a refresh token for a new pair. The returned refresh
// token supersedes the one passed in.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return auth.Session{}, ErrInvalidRefreshToken
	}
	var resp sessionResponse
	q := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}
	status, err := c.do(ctx, "refresh", http.MethodPost, "/auth/v1/token", q, "", body, &resp)
	if err != nil {
		if status == http.StatusBadRequest || isAuthStatus(status) {
			return auth.Session{}, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
		}
		return auth.Session{}, err
	}
	return resp.session(), nil
}

// SignInWithPassword performs the password grant.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (auth.Session, error) {
	var resp sessionResponse
	q := url.Values{"grant_type": {"password"}}
	body := map[string]string{"email": email, "password": password}
	status, err := c.do(ctx, "sign_in", http.MethodPost, "/auth/v1/token", q, "", body, &resp)
	if err != nil {
		if status == http.StatusBadRequest || isAuthStatus(status) {
			return auth.Session{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return auth.Session{}, err
	}
	return resp.session(), nil
}

// SignOut revokes the session the access token belongs to.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, "sign_out", http.MethodPost, "/auth/v1/logout", nil, accessToken, nil, nil)
	return err
}

// Recover sends a password recovery email that links back to redirectTo.
func (c *Client) Recover(ctx context.Context, email, redirectTo string) error {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	_, err := c.do(ctx, "recover", http.MethodPost, "/auth/v1/recover", q, "", map[string]string{"email": email}, nil)
	return err
}

// GetUser fetches an account using the service role key.
func (c *Client) GetUser(ctx context.Context, userID string) (User, error) {
	if c.serviceKey == "" {
		return User{}, fmt.Errorf("%w: service role key not configured", ErrProvider)
	}
	var user User
	status, err := c.do(ctx, "admin_get_user", http.MethodGet, "/auth/v1/admin/users/"+url.PathEscape(userID), nil, c.serviceKey, nil, &user)
	if status == http.StatusNotFound {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// UpdateUser changes an account using the service role key.
func (c *Client) UpdateUser(ctx context.Context, userID string, attrs UserAttributes) (User, error) {
	if c.serviceKey == "" {
		return User{}, fmt.Errorf("%w: service role key not configured", ErrProvider)
	}
	var user User
	status, err := c.do(ctx, "admin_update_user", http.MethodPut, "/auth/v1/admin/users/"+url.PathEscape(userID), nil, c.serviceKey, attrs, &user)
	if status == http.StatusNotFound {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// DeleteUser removes an account using the service role key.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if c.serviceKey == "" {
		return fmt.Errorf("%w: service role key not configured", ErrProvider)
	}
	status, err := c.do(ctx, "admin_delete_user", http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(userID), nil, c.serviceKey, nil, nil)
	if status == http.StatusNotFound {
		return ErrUserNotFound
	}
	return err
}

// do performs one request. The returned status is 0 when no response was received.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, bearerToken string, in, out any) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("identity: encode %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, fmt.Errorf("identity: build %s request: %w", op, err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		obs.ObserveIdentityCall(op, "transport_error", time.Since(start))
		return 0, fmt.Errorf("%w: %s request failed: %v", ErrProvider, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		obs.ObserveIdentityCall(op, "transport_error", time.Since(start))
		return resp.StatusCode, fmt.Errorf("%w: read %s response: %v", ErrProvider, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.ObserveIdentityCall(op, fmt.Sprintf("status_%d", resp.StatusCode), time.Since(start))
		return resp.StatusCode, fmt.Errorf("%w: %s returned %d: %s", ErrProvider, op, resp.StatusCode, providerMessage(raw))
	}
	obs.ObserveIdentityCall(op, "ok", time.Since(start))
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode %s response: %v", ErrProvider, op, err)
		}
	}
	return resp.StatusCode, nil
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound
}

// providerMessage pulls a human readable message out of the provider's error
// body, whose shape differs between endpoints.
func providerMessage(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return strings.TrimSpace(string(raw))
	}
	for _, path := range []string{"error_description", "msg", "message", "error.message", "error"} {
		if v := gjson.GetBytes(raw, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return "unknown error"
}
