package securityheaders

import (
	"net/http"
	"sort"

	"github.com/movpey/movpey/internal/config"
)

type headerPair struct {
	name  string
	value string
}

// Headers is a precomputed set of security headers.
type Headers struct {
	pairs []headerPair
}

// New compiles cfg. X-Content-Type-Options defaults to nosniff; every other
// header is sent only when configured.
func New(cfg config.SecurityHeadersConfig) *Headers {
	xcto := cfg.XContentTypeOptions
	if xcto == "" {
		xcto = "nosniff"
	}
	pairs := []headerPair{{"X-Content-Type-Options", xcto}}

	for _, p := range []headerPair{
		{"Strict-Transport-Security", cfg.StrictTransportSecurity},
		{"Content-Security-Policy", cfg.ContentSecurityPolicy},
		{"X-Frame-Options", cfg.XFrameOptions},
		{"Referrer-Policy", cfg.ReferrerPolicy},
		{"Permissions-Policy", cfg.PermissionsPolicy},
	} {
		if p.value != "" {
			pairs = append(pairs, p)
		}
	}

	names := make([]string, 0, len(cfg.CustomHeaders))
	for name := range cfg.CustomHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pairs = append(pairs, headerPair{name, cfg.CustomHeaders[name]})
	}

	return &Headers{pairs: pairs}
}

// Apply sets the headers on h, replacing values already present.
func (s *Headers) Apply(h http.Header) {
	for _, p := range s.pairs {
		h.Set(p.name, p.value)
	}
}

// Names returns the header names in the order they are applied.
func (s *Headers) Names() []string {
	names := make([]string, len(s.pairs))
	for i, p := range s.pairs {
		names[i] = p.name
	}
	return names
}

// Middleware sets the headers before next runs so that they also land on
// redirects and errors written by later stages.
func (s *Headers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Apply(w.Header())
		next.ServeHTTP(w, r)
	})
}
