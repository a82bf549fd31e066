package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/psiconnect/backoffice/internal/audit"
	"github.com/psiconnect/backoffice/internal/auth"
	"github.com/psiconnect/backoffice/internal/obs"
)

// withGate runs every request through the access gate. Denied requests get
// the same response whatever the failure mode.
func (a *API) withGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := routingPath(r)
		d := a.gate.Evaluate(r.Context(), p, a.tokens.Credentials(r))
		outcome := "deny"
		if d.Allowed() {
			outcome = "allow"
		}
		obs.ObserveGateDecision(outcome, d.ReasonCode())

		if !d.Allowed() {
			a.log.Debug("gate denied request",
				zap.String("request_id", audit.RequestIDFromContext(r.Context())),
				zap.String("path", p),
				zap.String("reason", d.ReasonCode()),
			)
			a.deny(w, r, d.ClearCookies)
			return
		}
		if d.Public {
			next.ServeHTTP(w, r)
			return
		}
		if d.Refreshed() {
			a.tokens.WriteSession(w, *d.Session)
		}
		ctx := auth.ContextWithAdmin(r.Context(), d.Identity, d.Admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// routingPath is the path the router dispatches on: the raw escaped form
// when the URL has one.
func routingPath(r *http.Request) string {
	if r.URL.RawPath != "" {
		return r.URL.RawPath
	}
	return r.URL.Path
}

// deny answers a rejected request: 401 JSON for API callers, a redirect to
// the login page otherwise.
func (a *API) deny(w http.ResponseWriter, r *http.Request, clearCookies bool) {
	if clearCookies {
		a.tokens.Clear(w)
	}
	w.Header().Set("Cache-Control", "no-store")
	if wantsJSON(r) {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}
	http.Redirect(w, r, a.cfg.LoginPath, http.StatusTemporaryRedirect)
}

// currentAdmin returns the admin the gate attached to the request.
func currentAdmin(r *http.Request) (*auth.AdminRow, bool) {
	admin, ok := auth.AdminFromContext(r.Context())
	if !ok || !admin.Role.Valid() {
		return nil, false
	}
	return admin, true
}
