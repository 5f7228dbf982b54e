// Package router serves the edge's first-party routes and hands every
// other request to the page renderer.
package router

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/movpey/movpey/internal/errors"
	"github.com/movpey/movpey/internal/middleware"
	"github.com/movpey/movpey/internal/middleware/geo"
)

// Options configures the router.
type Options struct {
	Gate     *geo.Gate
	Upstream http.Handler // nil answers unknown paths with 404
	Version  string
	Contact  string // support address shown on the blocked page
}

// Router dispatches requests using httprouter.
type Router struct {
	tree     *httprouter.Router
	gate     *geo.Gate
	fallback http.Handler
	version  string
	contact  string
}

// New creates a router with all first-party routes registered.
func New(opts Options) *Router {
	tree := httprouter.New()
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false
	tree.HandleMethodNotAllowed = false

	rt := &Router{
		tree:     tree,
		gate:     opts.Gate,
		fallback: opts.Upstream,
		version:  opts.Version,
		contact:  opts.Contact,
	}
	if rt.fallback == nil {
		rt.fallback = http.HandlerFunc(notFound)
	}
	tree.NotFound = rt.fallback

	blocked := "/blocked"
	if rt.gate != nil {
		blocked = rt.gate.BlockedPath()
	}
	tree.GET(blocked, rt.blocked)
	tree.HEAD(blocked, rt.blocked)
	tree.GET("/api/health", rt.health)
	tree.GET("/api/geo", rt.geo)
	tree.GET("/auth/callback", rt.authCallback)

	return rt
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.tree.ServeHTTP(w, r)
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": rt.version,
	})
}

type geoResponse struct {
	Enabled bool `json:"enabled"`
	Allowed bool `json:"allowed"`
	geo.Result
}

// geo reports what the gate would decide for the caller. The route itself
// is bypassed, so resolution runs here.
func (rt *Router) geo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if rt.gate == nil {
		errors.ErrNotFound.WriteJSON(w)
		return
	}
	res := rt.gate.Decide(r)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, geoResponse{
		Enabled: rt.gate.Enabled(),
		Allowed: !rt.gate.Enabled() || res.Verdict != geo.VerdictDeny,
		Result:  res,
	})
}

func (rt *Router) authCallback(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	http.Redirect(w, r, SafeNext(r.URL.Query().Get("next")), http.StatusSeeOther)
}

// SafeNext returns next when it is a local absolute path and "/" otherwise.
// Paths holding control characters are refused.
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") {
		return "/"
	}
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	for i := 0; i < len(next); i++ {
		if next[i] < 0x20 || next[i] == 0x7f {
			return "/"
		}
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}

func notFound(w http.ResponseWriter, r *http.Request) {
	errors.ErrNotFound.WithRequestID(middleware.RequestIDFromContext(r.Context())).WriteJSON(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
