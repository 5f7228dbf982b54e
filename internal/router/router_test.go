package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/movpey/movpey/internal/config"
	"github.com/movpey/movpey/internal/middleware/geo"
	"github.com/movpey/movpey/internal/middleware/realip"
)

func testGate(enabled bool) *geo.Gate {
	cfg := config.DefaultConfig().Geo
	cfg.Enabled = enabled
	return geo.New(cfg, config.ModeProduction, geo.FirstOf(
		geo.HeaderResolver(cfg.PlatformHeader),
		geo.HeaderResolver(cfg.CDNHeader),
	), nil)
}

func TestHealth(t *testing.T) {
	rt := New(Options{Version: "1.2.3"})

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest("GET", "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "1.2.3" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestGeoEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		enabled     bool
		country     string
		wantAllowed bool
		wantVerdict geo.Verdict
	}{
		{"allowed country", true, "VN", true, geo.VerdictAllow},
		{"denied country", true, "US", false, geo.VerdictDeny},
		{"unresolved production", true, "", false, geo.VerdictDeny},
		{"gate disabled", false, "US", true, geo.VerdictDeny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := New(Options{Gate: testGate(tt.enabled)})
			r := httptest.NewRequest("GET", "/api/geo", nil)
			if tt.country != "" {
				r.Header.Set("X-Vercel-IP-Country", tt.country)
			}
			w := httptest.NewRecorder()
			rt.ServeHTTP(w, r)

			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			var body struct {
				Enabled  bool   `json:"enabled"`
				Allowed  bool   `json:"allowed"`
				Verdict  string `json:"verdict"`
				Decision struct {
					Country string `json:"country"`
					Source  string `json:"source"`
				} `json:"decision"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body.Enabled != tt.enabled || body.Allowed != tt.wantAllowed {
				t.Errorf("enabled/allowed = %v/%v, want %v/%v", body.Enabled, body.Allowed, tt.enabled, tt.wantAllowed)
			}
			if body.Verdict != string(tt.wantVerdict) {
				t.Errorf("verdict = %q, want %q", body.Verdict, tt.wantVerdict)
			}
			if body.Decision.Country != tt.country {
				t.Errorf("country = %q, want %q", body.Decision.Country, tt.country)
			}
		})
	}
}

func TestGeoEndpointEchoesUnresolvedIP(t *testing.T) {
	cfg := config.DefaultConfig().Geo
	cfg.Enabled = true
	ex, err := realip.New(nil, false)
	if err != nil {
		t.Fatal(err)
	}
	gate := geo.New(cfg, config.ModeProduction, geo.FirstOf(
		geo.HeaderResolver(cfg.PlatformHeader),
		geo.NewIPResolver(ex, false, "", nil),
	), nil)

	r := httptest.NewRequest("GET", "/api/geo", nil)
	r.Header.Set("X-Real-IP", "8.8.4.4")
	w := httptest.NewRecorder()
	New(Options{Gate: gate}).ServeHTTP(w, r)

	var body struct {
		Verdict  string `json:"verdict"`
		Decision struct {
			IP     string `json:"ip"`
			Source string `json:"source"`
		} `json:"decision"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Verdict != string(geo.VerdictDeny) || body.Decision.IP != "8.8.4.4" {
		t.Errorf("expected deny echoing 8.8.4.4, got %+v", body)
	}
}

func TestGeoEndpointWithoutGate(t *testing.T) {
	w := httptest.NewRecorder()
	New(Options{}).ServeHTTP(w, httptest.NewRequest("GET", "/api/geo", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestBlockedPage(t *testing.T) {
	rt := New(Options{Gate: testGate(true), Contact: "support@movpey.vn"})

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest("GET", "/blocked", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
	body := w.Body.String()
	if !strings.Contains(body, "not available in your region") {
		t.Error("blocked page text missing")
	}
	if !strings.Contains(body, "support@movpey.vn") {
		t.Error("support contact missing")
	}

	w = httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest("HEAD", "/blocked", nil))
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("HEAD: expected empty 200, got %d with %d bytes", w.Code, w.Body.Len())
	}
}

func TestCustomBlockedPath(t *testing.T) {
	cfg := config.DefaultConfig().Geo
	cfg.BlockedPath = "/unavailable"
	rt := New(Options{Gate: geo.New(cfg, config.ModeProduction, geo.FirstOf(), nil)})

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest("GET", "/unavailable", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestAuthCallbackRedirect(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"", "/"},
		{"?next=/profile", "/profile"},
		{"?next=/movies/42%3Ftab%3Dcast", "/movies/42?tab=cast"},
		{"?next=https://evil.example", "/"},
		{"?next=//evil.example", "/"},
		{"?next=/%5Cevil.example", "/"},
		{"?next=relative", "/"},
		{"?next=/%09/evil.example", "/"},
		{"?next=/%0A/evil.example", "/"},
		{"?next=/%0D%0ALocation:%20https://evil.example", "/"},
		{"?next=/%7F/evil.example", "/"},
		{"?next=/%5C%09evil.example", "/"},
	}

	rt := New(Options{})
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := httptest.NewRecorder()
			rt.ServeHTTP(w, httptest.NewRequest("GET", "/auth/callback"+tt.query, nil))
			if w.Code != http.StatusSeeOther {
				t.Fatalf("expected 303, got %d", w.Code)
			}
			if got := w.Header().Get("Location"); got != tt.want {
				t.Errorf("Location = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnknownPathFallsBackToUpstream(t *testing.T) {
	var proxied string
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	rt := New(Options{Upstream: upstream})

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest("GET", "/movies/42", nil))
	if proxied != "/movies/42" || w.Code != http.StatusOK {
		t.Errorf("expected upstream to serve /movies/42, got %q %d", proxied, w.Code)
	}

	w = httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest("POST", "/api/health", nil))
	if proxied != "/api/health" {
		t.Error("unregistered methods should reach the upstream")
	}
}

func TestUnknownPathWithoutUpstream(t *testing.T) {
	w := httptest.NewRecorder()
	New(Options{}).ServeHTTP(w, httptest.NewRequest("GET", "/movies/42", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		t.Error("expected JSON 404")
	}
}
