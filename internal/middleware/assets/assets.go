// Package assets recognizes static asset requests so the edge pipeline
// can serve them without geo checks or session work.
package assets

import (
	"fmt"
	"net/http"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/movpey/movpey/internal/middleware"
)

// Matcher matches request paths against doublestar globs.
type Matcher struct {
	patterns []string
}

// New validates patterns and returns a Matcher.
func New(patterns []string) (*Matcher, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid static pattern %q", p)
		}
	}
	return &Matcher{patterns: patterns}, nil
}

// Match reports whether path is a static asset.
func (m *Matcher) Match(path string) bool {
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// Unless wraps mw so that static asset requests skip it.
func (m *Matcher) Unless(mw middleware.Middleware) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

// Only wraps mw so that it runs for static asset requests alone.
func (m *Matcher) Only(mw middleware.Middleware) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Match(r.URL.Path) {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
