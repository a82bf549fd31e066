package auth

import "context"

type adminContextKey struct{}
type identityContextKey struct{}

// ContextWithAdmin attaches the authorized caller to the context.
func ContextWithAdmin(ctx context.Context, identity Identity, admin *AdminRow) context.Context {
	ctx = context.WithValue(ctx, identityContextKey{}, identity)
	return context.WithValue(ctx, adminContextKey{}, admin)
}

// AdminFromContext extracts the authorization record placed by the gate.
func AdminFromContext(ctx context.Context) (*AdminRow, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(adminContextKey{}).(*AdminRow)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// IdentityFromContext extracts the verified identity placed by the gate.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || v.ID == "" {
		return Identity{}, false
	}
	return v, true
}
