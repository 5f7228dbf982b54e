// Package cdnheaders sets CDN cache headers on static asset responses.
package cdnheaders

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/movpey/movpey/internal/config"
)

// CDNHeaders injects Cache-Control and Vary into responses.
type CDNHeaders struct {
	cacheControl string
	vary         []string
	override     bool
}

// New builds CDNHeaders from cfg.
func New(cfg config.StaticCacheConfig) *CDNHeaders {
	parts := []string{}
	if cc := strings.TrimSpace(cfg.CacheControl); cc != "" {
		parts = append(parts, cc)
	}
	if cfg.StaleWhileRevalidate > 0 {
		parts = append(parts, fmt.Sprintf("stale-while-revalidate=%d", cfg.StaleWhileRevalidate))
	}
	if cfg.StaleIfError > 0 {
		parts = append(parts, fmt.Sprintf("stale-if-error=%d", cfg.StaleIfError))
	}
	return &CDNHeaders{
		cacheControl: strings.Join(parts, ", "),
		vary:         cfg.Vary,
		override:     cfg.Override,
	}
}

// CacheControl returns the compiled Cache-Control value.
func (c *CDNHeaders) CacheControl() string {
	return c.cacheControl
}

// Apply sets the headers on h. An existing Cache-Control survives unless
// override is set. Error responses are left alone.
func (c *CDNHeaders) Apply(h http.Header, status int) {
	if status >= 400 {
		return
	}
	if c.cacheControl != "" && (c.override || h.Get("Cache-Control") == "") {
		h.Set("Cache-Control", c.cacheControl)
	}
	for _, v := range c.vary {
		if !hasToken(h.Values("Vary"), v) {
			h.Add("Vary", v)
		}
	}
}

func hasToken(values []string, token string) bool {
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}

// Middleware applies the headers just before the response header is sent.
func (c *CDNHeaders) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&cdnHeadersWriter{ResponseWriter: w, cdn: c}, r)
	})
}

type cdnHeadersWriter struct {
	http.ResponseWriter
	cdn         *CDNHeaders
	wroteHeader bool
}

func (w *cdnHeadersWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.cdn.Apply(w.ResponseWriter.Header(), code)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cdnHeadersWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *cdnHeadersWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *cdnHeadersWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
