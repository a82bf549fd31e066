package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/psiconnect/backoffice/internal/audit"
	"github.com/psiconnect/backoffice/internal/auth"
	"github.com/psiconnect/backoffice/internal/identity"
)

const minPasswordLength = 8

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User      auth.Identity  `json:"user"`
	Admin     *auth.AdminRow `json:"admin"`
	ExpiresIn int            `json:"expires_in,omitempty"`
}

type callbackRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	AccessToken string `json:"access_token"`
	NewPassword string `json:"new_password"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "email and password are required")
		return
	}

	session, err := a.accounts.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid email or password")
			return
		}
		a.log.Error("password sign-in failed", zap.Error(err), zap.String("request_id", audit.RequestIDFromContext(r.Context())))
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "identity provider unavailable")
		return
	}
	if !session.Valid() {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid email or password")
		return
	}

	admin, ok := a.requireAdminRecord(w, r, session.User.ID)
	if !ok {
		a.revoke(r.Context(), session.AccessToken)
		return
	}
	a.tokens.WriteSession(w, session)
	a.log.Info("admin signed in", zap.String("admin_id", admin.ID), zap.String("role", admin.Role.String()))
	writeJSON(w, http.StatusOK, sessionResponse{User: session.User, Admin: admin, ExpiresIn: session.ExpiresIn})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := a.tokens.AccessToken(r); token != "" {
		a.revoke(r.Context(), token)
	}
	a.tokens.Clear(w)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "signed out"})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := a.tokens.RefreshToken(r)
	if refreshToken == "" {
		a.tokens.Clear(w)
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}
	session, err := a.accounts.Refresh(r.Context(), refreshToken)
	if err != nil || !session.Valid() {
		if err != nil && !errors.Is(err, auth.ErrRefreshFailed) {
			a.log.Warn("explicit refresh failed", zap.Error(err))
		}
		a.tokens.Clear(w)
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}
	admin, err := a.admins.ResolveRole(r.Context(), session.User.ID)
	if err != nil || admin == nil || !admin.Role.Valid() {
		a.tokens.Clear(w)
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}
	a.tokens.WriteSession(w, session)
	writeJSON(w, http.StatusOK, sessionResponse{User: session.User, Admin: admin, ExpiresIn: session.ExpiresIn})
}

// handleCallback completes a provider redirect (OAuth or magic link). GET
// callers are browsers and are redirected; POST callers receive JSON.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	browser := r.Method == http.MethodGet
	fail := func() {
		a.tokens.Clear(w)
		if browser {
			http.Redirect(w, r, a.cfg.LoginPath, http.StatusSeeOther)
			return
		}
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
	}

	var req callbackRequest
	if browser {
		q := r.URL.Query()
		req.AccessToken, req.RefreshToken = q.Get("access_token"), q.Get("refresh_token")
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.AccessToken == "" || req.RefreshToken == "" {
		fail()
		return
	}

	user, err := a.verifier.Verify(r.Context(), req.AccessToken)
	if err != nil || user.ID == "" {
		fail()
		return
	}
	admin, err := a.admins.ResolveRole(r.Context(), user.ID)
	if err != nil || admin == nil || !admin.Role.Valid() {
		fail()
		return
	}
	a.tokens.WriteSession(w, auth.Session{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken, User: user})
	if browser {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Admin: admin})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "email is required")
		return
	}
	redirectTo := strings.TrimRight(a.cfg.SiteURL, "/") + "/reset-password"
	if err := a.accounts.Recover(r.Context(), email, redirectTo); err != nil {
		a.log.Error("password recovery failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, codeInternal, "could not send recovery email")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "If the email is registered you will receive recovery instructions.",
	})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.AccessToken == "" || req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "access_token and new_password are required")
		return
	}
	if utf8.RuneCountInString(req.NewPassword) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "password must be at least 8 characters")
		return
	}
	user, err := a.verifier.Verify(r.Context(), req.AccessToken)
	if err != nil || user.ID == "" {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}
	password := req.NewPassword
	if _, err := a.accounts.UpdateUser(r.Context(), user.ID, identity.UserAttributes{Password: &password}); err != nil {
		a.log.Error("password update failed", zap.Error(err), zap.String("user_id", user.ID))
		writeError(w, r, http.StatusInternalServerError, codeInternal, "could not update password")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "password updated"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentAdmin(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}
	user, _ := auth.IdentityFromContext(r.Context())
	writeData(w, http.StatusOK, map[string]any{
		"user":         user,
		"admin":        admin,
		"role_display": admin.Role.DisplayName(),
		"actions":      auth.RoleActions(admin.Role),
	})
}

// requireAdminRecord answers 403 NOT_ADMIN unless userID has a recognized role.
func (a *API) requireAdminRecord(w http.ResponseWriter, r *http.Request, userID string) (*auth.AdminRow, bool) {
	admin, err := a.admins.ResolveRole(r.Context(), userID)
	if err != nil && !errors.Is(err, auth.ErrUnrecognizedRole) {
		a.log.Error("role lookup failed", zap.Error(err), zap.String("user_id", userID))
		writeError(w, r, http.StatusInternalServerError, codeInternal, "role lookup failed")
		return nil, false
	}
	if err != nil || admin == nil || !admin.Role.Valid() {
		writeError(w, r, http.StatusForbidden, codeNotAdmin, "access denied: user is not an admin")
		return nil, false
	}
	return admin, true
}

// revoke signs the session out at the provider; failures are logged only.
func (a *API) revoke(ctx context.Context, accessToken string) {
	if err := a.accounts.SignOut(ctx, accessToken); err != nil {
		a.log.Warn("provider sign-out failed", zap.Error(err))
	}
}
