package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/psiconnect/backoffice/internal/auth"
	"github.com/psiconnect/backoffice/internal/identity"
)

const (
	userManager    = "11111111-1111-4111-8111-111111111111"
	userViewer     = "22222222-2222-4222-8222-222222222222"
	userSuperadmin = "33333333-3333-4333-8333-333333333333"
	userStranger   = "44444444-4444-4444-8444-444444444444"

	adminManagerID    = "aaaaaaaa-1111-4111-8111-111111111111"
	adminViewerID     = "aaaaaaaa-2222-4222-8222-222222222222"
	adminSuperadminID = "aaaaaaaa-3333-4333-8333-333333333333"

	therapistID = "bbbbbbbb-0000-4000-8000-000000000001"
)

// stubVerifier maps access tokens to user ids.
type stubVerifier struct {
	mu     sync.Mutex
	tokens map[string]string
	calls  int
}

func (s *stubVerifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if id, ok := s.tokens[token]; ok {
		return auth.Identity{ID: id, Email: id[:4] + "@example.com"}, nil
	}
	return auth.Identity{}, identity.ErrInvalidToken
}

type stubAccounts struct {
	mu          sync.Mutex
	refreshFn   func(string) (auth.Session, error)
	signInFn    func(email, password string) (auth.Session, error)
	recoverFn   func(email, redirectTo string) error
	getFn       func(id string) (identity.User, error)
	updateFn    func(id string, attrs identity.UserAttributes) (identity.User, error)
	deleteFn    func(id string) error
	signedOut   []string
	refreshCall int
}

func (s *stubAccounts) Refresh(_ context.Context, token string) (auth.Session, error) {
	s.mu.Lock()
	s.refreshCall++
	s.mu.Unlock()
	if s.refreshFn != nil {
		return s.refreshFn(token)
	}
	return auth.Session{}, identity.ErrInvalidRefreshToken
}

func (s *stubAccounts) SignInWithPassword(_ context.Context, email, password string) (auth.Session, error) {
	if s.signInFn != nil {
		return s.signInFn(email, password)
	}
	return auth.Session{}, identity.ErrInvalidCredentials
}

func (s *stubAccounts) SignOut(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedOut = append(s.signedOut, token)
	return nil
}

func (s *stubAccounts) Recover(_ context.Context, email, redirectTo string) error {
	if s.recoverFn != nil {
		return s.recoverFn(email, redirectTo)
	}
	return nil
}

func (s *stubAccounts) GetUser(_ context.Context, id string) (identity.User, error) {
	if s.getFn != nil {
		return s.getFn(id)
	}
	return identity.User{ID: id, Email: id[:4] + "@example.com"}, nil
}

func (s *stubAccounts) UpdateUser(_ context.Context, id string, attrs identity.UserAttributes) (identity.User, error) {
	if s.updateFn != nil {
		return s.updateFn(id, attrs)
	}
	return identity.User{ID: id}, nil
}

func (s *stubAccounts) DeleteUser(_ context.Context, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(id)
	}
	return nil
}

type stubAdmins struct {
	mu        sync.Mutex
	byUser    map[string]*auth.AdminRow
	createFn  func(auth.NewAdmin) (auth.AdminRow, error)
	updateFn  func(id string, role auth.Role) (auth.AdminRow, error)
	deleteFn  func(id string) error
	actions   []auth.AdminAction
	lastLimit int
}

func (s *stubAdmins) ResolveRole(_ context.Context, userID string) (*auth.AdminRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byUser[userID]; ok {
		if !a.Role.Valid() {
			return nil, auth.ErrUnrecognizedRole
		}
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *stubAdmins) ListAdmins(context.Context) ([]auth.AdminRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.AdminRow
	for _, a := range s.byUser {
		out = append(out, *a)
	}
	return out, nil
}

func (s *stubAdmins) CreateAdmin(_ context.Context, in auth.NewAdmin) (auth.AdminRow, error) {
	if s.createFn != nil {
		return s.createFn(in)
	}
	return auth.AdminRow{ID: "cccccccc-0000-4000-8000-000000000001", UserID: in.UserID, Role: in.Role}, nil
}

func (s *stubAdmins) UpdateAdminRole(_ context.Context, id string, role auth.Role) (auth.AdminRow, error) {
	if s.updateFn != nil {
		return s.updateFn(id, role)
	}
	return auth.AdminRow{ID: id, Role: role}, nil
}

func (s *stubAdmins) DeleteAdmin(_ context.Context, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(id)
	}
	return nil
}

func (s *stubAdmins) ListAdminActions(_ context.Context, limit int) ([]auth.AdminAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	return s.actions, nil
}

type stubBackend struct {
	calls      []string
	lastFields map[string]any
	lastStatus string
	err        error
}

func (s *stubBackend) result(name, id string) (json.RawMessage, error) {
	s.calls = append(s.calls, name+":"+id)
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(`{"id":"` + id + `"}`), nil
}

func (s *stubBackend) ApproveTherapist(_ context.Context, id, _, notes string) (json.RawMessage, error) {
	return s.result("approve_therapist", id)
}

func (s *stubBackend) RejectTherapist(_ context.Context, id, _, reason string) (json.RawMessage, error) {
	return s.result("reject_therapist", id)
}

func (s *stubBackend) CancelSubscription(_ context.Context, id, _ string) (json.RawMessage, error) {
	return s.result("cancel_subscription", id)
}

func (s *stubBackend) ActivateSubscription(_ context.Context, id, _ string) (json.RawMessage, error) {
	return s.result("activate_subscription", id)
}

func (s *stubBackend) ReviewVerification(_ context.Context, id, _ string, approved bool, _ string) (json.RawMessage, error) {
	if approved {
		return s.result("approve_verification", id)
	}
	return s.result("reject_verification", id)
}

func (s *stubBackend) GetTherapist(_ context.Context, id string) (json.RawMessage, error) {
	return s.result("get_therapist", id)
}

func (s *stubBackend) UpdateTherapist(_ context.Context, id string, fields map[string]any) (json.RawMessage, error) {
	s.lastFields = fields
	return s.result("update_therapist", id)
}

func (s *stubBackend) DeleteTherapist(_ context.Context, id string) (json.RawMessage, error) {
	return s.result("delete_therapist", id)
}

func (s *stubBackend) ReviewTherapist(_ context.Context, id, _, status string) (json.RawMessage, error) {
	s.lastStatus = status
	return s.result("review_therapist", id)
}

func (s *stubBackend) ResolveTherapistEdit(_ context.Context, id, _ string) (json.RawMessage, error) {
	return s.result("resolve_therapist_edit", id)
}

func (s *stubBackend) ResolveProfileEdit(_ context.Context, id, _ string) (json.RawMessage, error) {
	return s.result("resolve_profile_edit", id)
}

func (s *stubBackend) GetSubscription(_ context.Context, id string) (json.RawMessage, error) {
	return s.result("get_subscription", id)
}

type recordedAction struct {
	action  string
	adminID string
	meta    map[string]any
}

type stubAuditor struct {
	mu      sync.Mutex
	entries []recordedAction
	err     error
}

func (s *stubAuditor) Record(_ context.Context, action string, admin *auth.AdminRow, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, recordedAction{action: action, adminID: admin.ID, meta: meta})
	return s.err
}

type testEnv struct {
	api      *API
	verifier *stubVerifier
	accounts *stubAccounts
	admins   *stubAdmins
	backend  *stubBackend
	auditor  *stubAuditor
}

// newTestEnv wires an API with one admin per role. Access tokens "tok-<role>"
// verify as that admin's user.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		verifier: &stubVerifier{tokens: map[string]string{
			"tok-manager":    userManager,
			"tok-viewer":     userViewer,
			"tok-superadmin": userSuperadmin,
			"tok-stranger":   userStranger,
		}},
		accounts: &stubAccounts{},
		admins: &stubAdmins{byUser: map[string]*auth.AdminRow{
			userManager:    {ID: adminManagerID, UserID: userManager, Role: auth.RoleManager, Permissions: map[string]bool{}},
			userViewer:     {ID: adminViewerID, UserID: userViewer, Role: auth.RoleViewer, Permissions: map[string]bool{}},
			userSuperadmin: {ID: adminSuperadminID, UserID: userSuperadmin, Role: auth.RoleSuperadmin},
		}},
		backend: &stubBackend{},
		auditor: &stubAuditor{},
	}
	gate, err := auth.NewGate(env.verifier, env.accounts, env.admins, auth.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	env.api, err = New(Config{
		Version:    "test",
		LoginPath:  "/login",
		SiteURL:    "https://admin.example.com/",
		RateBurst:  1000,
		RatePerSec: 1000,
	}, Deps{
		Gate:     gate,
		Verifier: env.verifier,
		Accounts: env.accounts,
		Admins:   env.admins,
		Backend:  env.backend,
		Audit:    env.auditor,
		Tokens:   auth.TokenStore{Secure: true},
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return env
}

type requestOption func(*http.Request)

func withCookies(access, refresh string) requestOption {
	return func(r *http.Request) {
		if access != "" {
			r.AddCookie(&http.Cookie{Name: auth.AccessTokenCookie, Value: access})
		}
		if refresh != "" {
			r.AddCookie(&http.Cookie{Name: auth.RefreshTokenCookie, Value: refresh})
		}
	}
}

func withHeader(k, v string) requestOption {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (e *testEnv) do(method, target, body string, opts ...requestOption) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "10.1.2.3:4567"
	for _, opt := range opts {
		opt(req)
	}
	rr := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rr, req)
	return rr
}

func cookiesByName(rr *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertCleared(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	cookies := cookiesByName(rr)
	for _, name := range []string{auth.AccessTokenCookie, auth.RefreshTokenCookie} {
		c, ok := cookies[name]
		if !ok {
			t.Fatalf("expected %s to be cleared", name)
		}
		if c.Value != "" || c.MaxAge >= 0 {
			t.Fatalf("cookie %s not expired: %+v", name, c)
		}
	}
}

var errBoom = errors.New("boom")
