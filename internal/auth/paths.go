package auth

import (
	"path"
	"strings"
)

var defaultPublicRoutes = []string{
	"/login",
	"/forgot-password",
	"/reset-password",
	"/api/auth/login",
	"/api/auth/logout",
	"/api/auth/callback",
	"/api/auth/refresh",
	"/api/auth/oauth",
	"/api/auth/forgot-password",
	"/api/auth/reset-password",
	"/favicon.ico",
	"/healthz",
	"/readyz",
	"/metrics",
}

var defaultPublicTrees = []string{
	"/_next",
	"/static",
}

// PathMatcher decides whether a request path bypasses the gate.
//
// Routes match only the exact cleaned path. Trees match their root and any
// path below it on a segment boundary, so "/_next/app.js" is public while
// "/_nextsecret" and "/loginX/secret" are not.
type PathMatcher struct {
	routes map[string]struct{}
	trees  []string
}

// NewPathMatcher builds a matcher from exact routes and asset tree roots.
func NewPathMatcher(routes, trees []string) *PathMatcher {
	m := &PathMatcher{routes: make(map[string]struct{}, len(routes))}
	for _, r := range routes {
		m.routes[cleanPath(r)] = struct{}{}
	}
	for _, t := range trees {
		m.trees = append(m.trees, cleanPath(t))
	}
	return m
}

// DefaultPublicPaths returns the login, password-reset, auth endpoint and asset allow-list.
func DefaultPublicPaths() *PathMatcher {
	return NewPathMatcher(defaultPublicRoutes, defaultPublicTrees)
}

// Match reports whether p is public. A path with dot segments or escaped
// separators is never public, since a router may resolve it differently.
func (m *PathMatcher) Match(p string) bool {
	if m == nil || !canonical(p) {
		return false
	}
	p = cleanPath(p)
	if _, ok := m.routes[p]; ok {
		return true
	}
	for _, root := range m.trees {
		if p == root || strings.HasPrefix(p, root+"/") {
			return true
		}
	}
	return false
}

// With returns a copy of m that also treats routes as public.
func (m *PathMatcher) With(routes ...string) *PathMatcher {
	out := &PathMatcher{routes: make(map[string]struct{}, len(routes))}
	if m != nil {
		for r := range m.routes {
			out.routes[r] = struct{}{}
		}
		out.trees = append(out.trees, m.trees...)
	}
	for _, r := range routes {
		if strings.TrimSpace(r) != "" {
			out.routes[cleanPath(r)] = struct{}{}
		}
	}
	return out
}

func canonical(p string) bool {
	lower := strings.ToLower(p)
	for _, esc := range []string{"%2e", "%2f", "%5c"} {
		if strings.Contains(lower, esc) {
			return false
		}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// cleanPath resolves dot segments so "/_next/../users" cannot pose as an asset.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
