package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/psiconnect/backoffice/internal/audit"
	"github.com/psiconnect/backoffice/internal/ids"
	"github.com/psiconnect/backoffice/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, 1))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", rr2.Header().Get("Retry-After"))
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["code"] != codeRateLimited {
		t.Fatalf("unexpected code %v", body["code"])
	}
	if body["request_id"] == "" || body["request_id"] != rr2.Header().Get(requestIDHeader) {
		t.Fatalf("expected request_id in body, got %v", body)
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("buckets must be per client, got %d", rr3.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestIDFromContext(r.Context())
	}))
	serve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(requestIDHeader, header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	minted := ids.New()
	for _, rid := range []string{minted, "6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f"} {
		rr := serve(rid)
		if seen != rid || rr.Header().Get(requestIDHeader) != rid {
			t.Fatalf("caller id not propagated: ctx=%q header=%q", seen, rr.Header().Get(requestIDHeader))
		}
	}

	for _, rid := range []string{"", "caller-supplied", strings.Repeat("x", 200), "{6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f}", "line\nbreak"} {
		rr := serve(rid)
		if seen == rid || !ids.Valid(seen) || rr.Header().Get(requestIDHeader) != seen {
			t.Fatalf("header %q: expected a minted id, got ctx=%q header=%q", rid, seen, rr.Header().Get(requestIDHeader))
		}
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := obs.Logger()
	obs.SetLogger(zap.New(core))
	t.Cleanup(func() { obs.SetLogger(prev) })

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test?access_token=secret", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request_complete entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"request_id", "method", "path", "status", "bytes", "duration_ms", "remote_ip"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if fields["status"] != int64(http.StatusTeapot) || fields["bytes"] != int64(2) {
		t.Fatalf("unexpected status/bytes: %v %v", fields["status"], fields["bytes"])
	}
	if fields["path"] != "/log-test" {
		t.Fatalf("query string must not be logged: %v", fields["path"])
	}
	if fields["remote_ip"] != "127.0.0.1" {
		t.Fatalf("unexpected remote ip %v", fields["remote_ip"])
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for k, v := range want {
		if got := rr.Header().Get(k); got != v {
			t.Fatalf("%s: got %q, want %q", k, got, v)
		}
	}
}

func TestWantsJSON(t *testing.T) {
	cases := []struct {
		path, accept string
		want         bool
	}{
		{"/api/me", "", true},
		{"/api/me", "text/html", true},
		{"/users", "application/json", true},
		{"/users", "text/html,application/json", false},
		{"/users", "", false},
		{"/apix", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.accept != "" {
			req.Header.Set("Accept", tc.accept)
		}
		if got := wantsJSON(req); got != tc.want {
			t.Fatalf("wantsJSON(%s, %q) = %v, want %v", tc.path, tc.accept, got, tc.want)
		}
	}
}
