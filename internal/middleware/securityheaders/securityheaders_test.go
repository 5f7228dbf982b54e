package securityheaders

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/movpey/movpey/internal/config"
)

func TestDefaultHeaders(t *testing.T) {
	s := New(config.SecurityHeadersConfig{Enabled: true})
	rec := httptest.NewRecorder()
	s.Apply(rec.Header())

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := s.Names(); !reflect.DeepEqual(got, []string{"X-Content-Type-Options"}) {
		t.Errorf("unexpected headers %v", got)
	}
}

func TestAllHeaders(t *testing.T) {
	s := New(config.SecurityHeadersConfig{
		Enabled:                 true,
		StrictTransportSecurity: "max-age=31536000; includeSubDomains",
		ContentSecurityPolicy:   "default-src 'self'",
		XFrameOptions:           "DENY",
		ReferrerPolicy:          "strict-origin-when-cross-origin",
		PermissionsPolicy:       "camera=(), microphone=()",
		CustomHeaders:           map[string]string{"X-Edge": "movpey", "X-A": "1"},
	})
	h := make(http.Header)
	s.Apply(h)

	expected := map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Content-Security-Policy":   "default-src 'self'",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"Permissions-Policy":        "camera=(), microphone=()",
		"X-Edge":                    "movpey",
		"X-A":                       "1",
	}
	for name, want := range expected {
		if got := h.Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	names := s.Names()
	if names[len(names)-2] != "X-A" || names[len(names)-1] != "X-Edge" {
		t.Errorf("custom headers not sorted: %v", names)
	}
}

func TestMiddlewareCoversRedirects(t *testing.T) {
	s := New(config.SecurityHeadersConfig{Enabled: true, XFrameOptions: "SAMEORIGIN"})
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/blocked", http.StatusTemporaryRedirect)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/phim", nil))

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Error("redirect missing X-Frame-Options")
	}
}
