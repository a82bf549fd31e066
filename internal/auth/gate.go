package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// IdentityVerifier asks the identity provider who an access token belongs to.
// Provider-side rejections must wrap ErrVerificationFailed.
type IdentityVerifier interface {
	Verify(ctx context.Context, accessToken string) (Identity, error)
}

// SessionRefresher exchanges a refresh token for a new credential pair.
// Provider-side rejections must wrap ErrRefreshFailed.
type SessionRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

// RoleResolver loads the authorization record for an identity. A missing
// record is (nil, nil); a record with an unrecognized role is ErrUnrecognizedRole.
type RoleResolver interface {
	ResolveRole(ctx context.Context, userID string) (*AdminRow, error)
}

// State is a step of the per-request authorization state machine.
type State uint8

const (
	StateStart State = iota
	StateNoToken
	StateVerifying
	StateVerified
	StateRefreshing
	StateRefreshed
	StateReauthFailed
	StateRoleCheck
	StateAuthorized
	StateDenied
)

var stateNames = [...]string{
	StateStart:        "start",
	StateNoToken:      "no_token",
	StateVerifying:    "verifying",
	StateVerified:     "verified",
	StateRefreshing:   "refreshing",
	StateRefreshed:    "refreshed",
	StateReauthFailed: "reauth_failed",
	StateRoleCheck:    "role_check",
	StateAuthorized:   "authorized",
	StateDenied:       "denied",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Outcome is the gate verdict. The zero value denies.
type Outcome uint8

const (
	OutcomeDeny Outcome = iota
	OutcomeAllow
)

// Decision is the result of evaluating one request.
type Decision struct {
	Outcome Outcome
	// Public is set when the path bypassed every check.
	Public bool
	// Reason is one of the gate sentinel errors when denied.
	Reason   error
	Identity Identity
	Admin    *AdminRow
	// Session holds a refreshed credential pair that must be written to the response.
	Session *Session
	// ClearCookies requests that both session cookies be expired.
	ClearCookies bool
	Trace        []State
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

// Refreshed reports whether new cookies must be attached to the response.
func (d Decision) Refreshed() bool { return d.Outcome == OutcomeAllow && d.Session != nil }

// ReasonCode is a stable label for logs and metrics.
func (d Decision) ReasonCode() string {
	switch {
	case d.Outcome == OutcomeAllow && d.Public:
		return "public"
	case d.Outcome == OutcomeAllow && d.Session != nil:
		return "refreshed"
	case d.Outcome == OutcomeAllow:
		return "verified"
	case errors.Is(d.Reason, ErrNoCredential):
		return "no_credential"
	case errors.Is(d.Reason, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(d.Reason, ErrRefreshFailed):
		return "refresh_failed"
	case errors.Is(d.Reason, ErrNotAuthorized):
		return "not_authorized"
	default:
		return "unexpected"
	}
}

func (d *Decision) visit(s State) { d.Trace = append(d.Trace, s) }

func (d Decision) allow() Decision {
	d.visit(StateAuthorized)
	d.Outcome = OutcomeAllow
	d.Reason = nil
	return d
}

func (d Decision) deny(reason error, clear bool) Decision {
	d.visit(StateDenied)
	d.Outcome = OutcomeDeny
	d.Reason = reason
	d.Identity = Identity{}
	d.Admin = nil
	d.Session = nil
	d.ClearCookies = clear
	return d
}

// Gate decides, per request, whether the caller holds a valid session with a
// recognized back-office role. It holds no per-request state and never caches.
type Gate struct {
	verifier  IdentityVerifier
	refresher SessionRefresher
	roles     RoleResolver
	public    *PathMatcher
	log       *zap.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithPublicPaths replaces the default public allow-list.
func WithPublicPaths(m *PathMatcher) GateOption {
	return func(g *Gate) {
		if m != nil {
			g.public = m
		}
	}
}

// WithLogger sets the logger used for failure diagnostics.
func WithLogger(l *zap.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGate wires the three collaborators into a gate.
func NewGate(verifier IdentityVerifier, refresher SessionRefresher, roles RoleResolver, opts ...GateOption) (*Gate, error) {
	if verifier == nil || refresher == nil || roles == nil {
		return nil, errors.New("auth: gate requires verifier, refresher and role resolver")
	}
	g := &Gate{
		verifier:  verifier,
		refresher: refresher,
		roles:     roles,
		public:    DefaultPublicPaths(),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// IsPublic reports whether path bypasses the gate.
func (g *Gate) IsPublic(path string) bool {
	return g.public.Match(path)
}

// Evaluate runs the state machine for one request. External calls are made
// strictly in order verify -> [refresh] -> resolve; any failure denies.
func (g *Gate) Evaluate(ctx context.Context, path string, creds Credentials) Decision {
	d := Decision{Trace: []State{StateStart}}

	if g.public.Match(path) {
		d.Public = true
		return d.allow()
	}

	if creds.AccessToken == "" {
		d.visit(StateNoToken)
		return d.deny(ErrNoCredential, creds.RefreshToken != "")
	}

	d.visit(StateVerifying)
	identity, err := g.verify(ctx, creds.AccessToken)
	if err == nil && identity.ID == "" {
		err = fmt.Errorf("%w: provider returned no user", ErrVerificationFailed)
	}
	if err == nil {
		d.visit(StateVerified)
		return g.checkRole(ctx, d, identity)
	}
	g.logFailure("verify", err)
	if creds.RefreshToken == "" {
		return d.deny(ErrVerificationFailed, true)
	}

	d.visit(StateRefreshing)
	session, err := g.refresh(ctx, creds.RefreshToken)
	if err == nil && !session.Valid() {
		err = fmt.Errorf("%w: provider returned no session", ErrRefreshFailed)
	}
	if err != nil {
		g.logFailure("refresh", err)
		d.visit(StateReauthFailed)
		return d.deny(ErrRefreshFailed, true)
	}
	d.visit(StateRefreshed)
	d.Session = &session
	return g.checkRole(ctx, d, session.User)
}

func (g *Gate) checkRole(ctx context.Context, d Decision, identity Identity) Decision {
	d.visit(StateRoleCheck)
	admin, err := g.resolve(ctx, identity.ID)
	if err != nil {
		g.logFailure("resolve_role", err, zap.String("user_id", identity.ID))
		return d.deny(ErrNotAuthorized, true)
	}
	if admin == nil || !admin.Role.Valid() {
		g.log.Info("gate denied identity without admin record", zap.String("user_id", identity.ID))
		return d.deny(ErrNotAuthorized, true)
	}
	d.Identity = identity
	d.Admin = admin
	return d.allow()
}

func (g *Gate) logFailure(step string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("step", step), zap.Error(err))
	switch {
	case errors.Is(err, ErrVerificationFailed):
		g.log.Debug("gate step rejected", fields...)
	case errors.Is(err, ErrRefreshFailed), errors.Is(err, ErrUnrecognizedRole):
		g.log.Warn("gate step rejected", fields...)
	default:
		g.log.Error("gate step failed unexpectedly", fields...)
	}
}

func (g *Gate) verify(ctx context.Context, token string) (id Identity, err error) {
	defer recoverStep("verify", &err)
	return g.verifier.Verify(ctx, token)
}

func (g *Gate) refresh(ctx context.Context, token string) (s Session, err error) {
	defer recoverStep("refresh", &err)
	return g.refresher.Refresh(ctx, token)
}

func (g *Gate) resolve(ctx context.Context, userID string) (admin *AdminRow, err error) {
	defer recoverStep("resolve_role", &err)
	return g.roles.ResolveRole(ctx, userID)
}

// recoverStep turns a collaborator panic into ErrUnexpected so it can only deny.
func recoverStep(step string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s panicked: %v", ErrUnexpected, step, r)
	}
}
