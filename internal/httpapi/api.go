// Package httpapi is the back-office HTTP surface: the access gate, the auth
// endpoints and the privileged admin routes.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/psiconnect/backoffice/internal/auth"
	"github.com/psiconnect/backoffice/internal/identity"
	"github.com/psiconnect/backoffice/internal/obs"
)

const serviceName = "backoffice-api"

// Accounts is the identity provider surface used by the auth endpoints and
// user management routes.
type Accounts interface {
	auth.SessionRefresher
	SignInWithPassword(ctx context.Context, email, password string) (auth.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	Recover(ctx context.Context, email, redirectTo string) error
	GetUser(ctx context.Context, userID string) (identity.User, error)
	UpdateUser(ctx context.Context, userID string, attrs identity.UserAttributes) (identity.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// AdminStore manages admin records and reads the action log.
type AdminStore interface {
	auth.RoleResolver
	ListAdmins(ctx context.Context) ([]auth.AdminRow, error)
	CreateAdmin(ctx context.Context, in auth.NewAdmin) (auth.AdminRow, error)
	UpdateAdminRole(ctx context.Context, id string, role auth.Role) (auth.AdminRow, error)
	DeleteAdmin(ctx context.Context, id string) error
	ListAdminActions(ctx context.Context, limit int) ([]auth.AdminAction, error)
}

// Backend runs the hosted backend's privileged procedures and reads.
type Backend interface {
	GetTherapist(ctx context.Context, therapistID string) (json.RawMessage, error)
	UpdateTherapist(ctx context.Context, therapistID string, fields map[string]any) (json.RawMessage, error)
	DeleteTherapist(ctx context.Context, therapistID string) (json.RawMessage, error)
	ReviewTherapist(ctx context.Context, therapistID, adminID, status string) (json.RawMessage, error)
	ResolveTherapistEdit(ctx context.Context, editID, adminID string) (json.RawMessage, error)
	ResolveProfileEdit(ctx context.Context, editID, adminID string) (json.RawMessage, error)
	GetSubscription(ctx context.Context, subscriptionID string) (json.RawMessage, error)
	ApproveTherapist(ctx context.Context, therapistID, adminID, notes string) (json.RawMessage, error)
	RejectTherapist(ctx context.Context, therapistID, adminID, reason string) (json.RawMessage, error)
	CancelSubscription(ctx context.Context, subscriptionID, adminID string) (json.RawMessage, error)
	ActivateSubscription(ctx context.Context, subscriptionID, adminID string) (json.RawMessage, error)
	ReviewVerification(ctx context.Context, id, adminID string, approved bool, reason string) (json.RawMessage, error)
}

// Auditor records privileged actions.
type Auditor interface {
	Record(ctx context.Context, action string, admin *auth.AdminRow, metadata map[string]any) error
}

// ReadinessCheck checks readiness, typically by pinging the database.
type ReadinessCheck struct {
	DB *sql.DB
}

func (rc ReadinessCheck) Check(ctx context.Context) error {
	if rc.DB == nil {
		return nil
	}
	return rc.DB.PingContext(ctx)
}

// Config holds the HTTP surface settings.
type Config struct {
	Version     string
	LoginPath   string
	SiteURL     string
	RateBurst   int
	RatePerSec  float64
	CORSOrigins []string
}

// Deps are the collaborators the API needs. Gate, Verifier, Accounts and
// Admins are required.
type Deps struct {
	Gate     *auth.Gate
	Verifier auth.IdentityVerifier
	Accounts Accounts
	Admins   AdminStore
	Backend  Backend
	Audit    Auditor
	Ready    ReadinessCheck
	Tokens   auth.TokenStore
	Logger   *zap.Logger
}

// API is the HTTP layer.
type API struct {
	router http.Handler
	cfg    Config

	gate     *auth.Gate
	verifier auth.IdentityVerifier
	accounts Accounts
	admins   AdminStore
	backend  Backend
	auditor  Auditor
	ready    ReadinessCheck
	tokens   auth.TokenStore
	log      *zap.Logger
}

func New(cfg Config, deps Deps) (*API, error) {
	switch {
	case deps.Gate == nil:
		return nil, errors.New("httpapi: gate is required")
	case deps.Verifier == nil:
		return nil, errors.New("httpapi: identity verifier is required")
	case deps.Accounts == nil:
		return nil, errors.New("httpapi: accounts client is required")
	case deps.Admins == nil:
		return nil, errors.New("httpapi: admin store is required")
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if !deps.Gate.IsPublic(cfg.LoginPath) {
		return nil, fmt.Errorf("httpapi: login path %q is not on the gate's public allow-list", cfg.LoginPath)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	a := &API{
		cfg:      cfg,
		gate:     deps.Gate,
		verifier: deps.Verifier,
		accounts: deps.Accounts,
		admins:   deps.Admins,
		backend:  deps.Backend,
		auditor:  deps.Audit,
		ready:    deps.Ready,
		tokens:   deps.Tokens,
		log:      deps.Logger,
	}
	if a.log == nil {
		a.log = obs.Logger()
	}
	a.router = a.routes()
	return a, nil
}

// Handler returns the root handler, wrapped with metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.RealIP)
	r.Use(LoggingJSON)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}))
	r.Use(a.withGate)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/auth", func(sr chi.Router) {
		sr.Use(func(next http.Handler) http.Handler {
			return RateLimit(next, a.cfg.RateBurst, a.cfg.RatePerSec)
		})
		sr.Post("/login", a.handleLogin)
		sr.Post("/logout", a.handleLogout)
		sr.Post("/refresh", a.handleRefresh)
		sr.Get("/callback", a.handleCallback)
		sr.Post("/callback", a.handleCallback)
		sr.Post("/forgot-password", a.handleForgotPassword)
		sr.Post("/reset-password", a.handleResetPassword)
	})

	r.Get("/api/me", a.handleMe)

	r.Get("/api/therapists/{id}", a.handleGetTherapist)
	r.Put("/api/therapists/{id}", a.handleUpdateTherapist)
	r.Delete("/api/therapists/{id}", a.handleDeleteTherapist)
	r.Post("/api/therapists/{id}/approve", a.handleApproveTherapist)
	r.Post("/api/therapists/{id}/reject", a.handleRejectTherapist)
	r.Post("/api/therapists/{id}/review", a.handleReviewTherapist)
	r.Post("/api/therapist-edits/{id}/resolve", a.handleResolveTherapistEdit)
	r.Post("/api/profile-edits/{id}/resolve", a.handleResolveProfileEdit)

	r.Get("/api/subscriptions/{id}", a.handleGetSubscription)
	r.Post("/api/subscriptions/{id}/cancel", a.handleCancelSubscription)
	r.Post("/api/subscriptions/{id}/activate", a.handleActivateSubscription)
	r.Post("/api/verification/{id}/approve", a.handleApproveVerification)
	r.Post("/api/verification/{id}/reject", a.handleRejectVerification)

	r.Get("/api/users/{id}", a.handleGetUser)
	r.Put("/api/users/{id}", a.handleUpdateUser)
	r.Delete("/api/users/{id}", a.handleDeleteUser)

	r.Get("/api/admins", a.handleListAdmins)
	r.Post("/api/admins", a.handleCreateAdmin)
	r.Patch("/api/admins/{id}/role", a.handleUpdateAdminRole)
	r.Delete("/api/admins/{id}", a.handleDeleteAdmin)
	r.Get("/api/admin-actions", a.handleListAdminActions)

	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
