package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestProxyForwardsRequest(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("X-Rendered-By", "renderer")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "<html>movies</html>")
	}))
	defer upstream.Close()

	p, err := New(upstream.URL+"/app", nil, time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	r := httptest.NewRequest("GET", "http://movpey.vn/movies/42?tab=cast", nil)
	r.RemoteAddr = "113.161.1.1:5555"
	r.Header.Set("Cookie", "sb-abcd-auth-token=base64-e30")
	r.Header.Set("Proxy-Authorization", "secret")
	w := httptest.NewRecorder()
	p.ServeHTTP(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if w.Body.String() != "<html>movies</html>" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
	if w.Header().Get("X-Rendered-By") != "renderer" {
		t.Error("response header not copied")
	}
	if w.Header().Get("Connection") != "" {
		t.Error("hop-by-hop response header not removed")
	}

	if got.URL.Path != "/app/movies/42" || got.URL.RawQuery != "tab=cast" {
		t.Errorf("unexpected upstream URL %s?%s", got.URL.Path, got.URL.RawQuery)
	}
	if got.Header.Get("Cookie") != "sb-abcd-auth-token=base64-e30" {
		t.Error("cookies must be forwarded")
	}
	if got.Header.Get("Proxy-Authorization") != "" {
		t.Error("hop-by-hop request header forwarded")
	}
	if got.Header.Get("X-Forwarded-For") != "113.161.1.1" {
		t.Errorf("unexpected X-Forwarded-For %q", got.Header.Get("X-Forwarded-For"))
	}
	if got.Header.Get("X-Forwarded-Host") != "movpey.vn" {
		t.Errorf("unexpected X-Forwarded-Host %q", got.Header.Get("X-Forwarded-Host"))
	}
	if got.Header.Get("X-Forwarded-Proto") != "http" {
		t.Errorf("unexpected X-Forwarded-Proto %q", got.Header.Get("X-Forwarded-Proto"))
	}
}

func TestProxyAppendsForwardedFor(t *testing.T) {
	var xff string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		xff = r.Header.Get("X-Forwarded-For")
	}))
	defer upstream.Close()

	p, _ := New(upstream.URL, nil, time.Second)
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	r.Header.Set("X-Forwarded-For", "113.161.1.1")
	p.ServeHTTP(httptest.NewRecorder(), r)

	if xff != "113.161.1.1, 10.0.0.2" {
		t.Errorf("unexpected X-Forwarded-For %q", xff)
	}
}

func TestProxyForwardsBody(t *testing.T) {
	var body string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer upstream.Close()

	p, _ := New(upstream.URL, nil, time.Second)
	r := httptest.NewRequest("POST", "/favorites", strings.NewReader(`{"movie":42}`))
	p.ServeHTTP(httptest.NewRecorder(), r)

	if body != `{"movie":42}` {
		t.Errorf("unexpected upstream body %q", body)
	}
}

func TestProxyUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	p, _ := New(url, nil, time.Second)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		t.Error("expected JSON error body")
	}
}

func TestProxyUpstreamTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer upstream.Close()

	p, _ := New(upstream.URL, nil, 50*time.Millisecond)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", w.Code)
	}
}

func TestNewRejectsBadTarget(t *testing.T) {
	for _, target := range []string{"", "renderer:3000/path", "://bad"} {
		if _, err := New(target, nil, 0); err == nil {
			t.Errorf("expected error for %q", target)
		}
	}
}

func TestSingleJoiningSlash(t *testing.T) {
	tests := []struct{ a, b, want string }{
		{"", "/x", "/x"},
		{"/app", "/x", "/app/x"},
		{"/app/", "/x", "/app/x"},
		{"/app", "x", "/app/x"},
	}
	for _, tt := range tests {
		if got := singleJoiningSlash(tt.a, tt.b); got != tt.want {
			t.Errorf("singleJoiningSlash(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestProxyKeepsEarlierSetCookie(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "locale", Value: "vi"})
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Vary", "accept-encoding, Cookie")
		w.Header().Set("X-Request-ID", "upstream-id")
	}))
	defer backend.Close()

	p, err := New(backend.URL, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	http.SetCookie(w, &http.Cookie{Name: "sb-test-auth-token", Value: "refreshed"})
	w.Header().Set("X-Frame-Options", "SAMEORIGIN")
	w.Header().Set("Vary", "Accept-Encoding")
	w.Header().Set("X-Request-ID", "edge-id")
	p.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	res := w.Result()
	if got := res.Cookies(); len(got) != 2 {
		t.Errorf("expected both cookies, got %v", got)
	}
	if got := res.Header.Values("X-Frame-Options"); len(got) != 1 || got[0] != "DENY" {
		t.Errorf("X-Frame-Options = %v, want [DENY]", got)
	}
	if got := res.Header.Values("X-Request-ID"); len(got) != 1 {
		t.Errorf("X-Request-ID = %v, want a single value", got)
	}
	if got := res.Header.Values("Vary"); len(got) != 1 || got[0] != "Accept-Encoding, Cookie" {
		t.Errorf("Vary = %v, want [Accept-Encoding, Cookie]", got)
	}
}

func TestMergeVary(t *testing.T) {
	tests := []struct {
		existing []string
		upstream []string
		want     []string
	}{
		{nil, nil, nil},
		{[]string{"Accept-Encoding"}, nil, []string{"Accept-Encoding"}},
		{nil, []string{"Origin", "Cookie"}, []string{"Origin, Cookie"}},
		{[]string{"Accept-Encoding"}, []string{"accept-encoding,Origin"}, []string{"Accept-Encoding, Origin"}},
	}
	for _, tt := range tests {
		got := mergeVary(tt.existing, tt.upstream)
		if len(got) != len(tt.want) || (len(got) == 1 && got[0] != tt.want[0]) {
			t.Errorf("mergeVary(%v, %v) = %v, want %v", tt.existing, tt.upstream, got, tt.want)
		}
	}
}
