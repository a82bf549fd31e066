package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "/"},
		{"/metrics", "/metrics"},
		{"/api/users/3f2a6c1e-8d4b-4c3a-9a51-0f2e7d6b5c4a", "/api/users/:id"},
		{"/api/admins/42/role", "/api/admins/:id/role"},
		{"/api/therapists/01HZX3K9V4M2Q8R7T6S5N4P3B2/approve", "/api/therapists/:id/approve"},
		{"/api/admin-actions?limit=10", "/api/admin-actions"},
		{"/login", "/login"},
	}
	for _, tc := range cases {
		if got := CanonicalPath(tc.in); got != tc.want {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestObserveGateDecision(t *testing.T) {
	before := testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("deny", "refresh_failed"))
	ObserveGateDecision("deny", "refresh_failed")
	after := testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("deny", "refresh_failed"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestObserveIdentityCall(t *testing.T) {
	before := testutil.ToFloat64(identityRequestsTotal.WithLabelValues("verify", "ok"))
	ObserveIdentityCall("verify", "ok", 15*time.Millisecond)
	if got := testutil.ToFloat64(identityRequestsTotal.WithLabelValues("verify", "ok")); got-before != 1 {
		t.Fatalf("expected one identity call, got %v", got-before)
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/me", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/me", "418")); got-before != 1 {
		t.Fatalf("expected first status to be recorded, delta=%v", got-before)
	}
}
