// Package proxy forwards requests that no first-party route handles to the
// page renderer.
package proxy

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/movpey/movpey/internal/errors"
	"github.com/movpey/movpey/internal/logging"
	"github.com/movpey/movpey/internal/tracing"
	"go.uber.org/zap"
)

// Proxy handles proxying requests to a single upstream
type Proxy struct {
	target    *url.URL
	transport http.RoundTripper
	timeout   time.Duration
}

// New creates a proxy for target. A nil transport uses DefaultTransport().
func New(target string, transport http.RoundTripper, timeout time.Duration) (*Proxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: target, Err: stderrors.New("missing scheme or host")}
	}
	if transport == nil {
		transport = DefaultTransport()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Proxy{target: u, transport: transport, timeout: timeout}, nil
}

// ServeHTTP forwards r and copies the upstream response back.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.transport.RoundTrip(p.createProxyRequest(ctx, r))
	if err != nil {
		p.handleError(ctx, w, r, err)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// createProxyRequest builds the upstream request. ctx is attached directly.
func (p *Proxy) createProxyRequest(ctx context.Context, r *http.Request) *http.Request {
	targetURL := *p.target
	targetURL.Path = singleJoiningSlash(p.target.Path, r.URL.Path)
	targetURL.RawQuery = r.URL.RawQuery

	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           &targetURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          p.target.Host,
	}).WithContext(ctx)

	proxyReq.Header = make(http.Header, len(r.Header)+3)
	for k, vv := range r.Header {
		proxyReq.Header[k] = append([]string(nil), vv...)
	}
	if r.ContentLength == 0 {
		proxyReq.Body = nil
	}

	if clientIP := remoteHost(r.RemoteAddr); clientIP != "" {
		if prior := proxyReq.Header.Get("X-Forwarded-For"); prior != "" {
			proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}

	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else if proxyReq.Header.Get("X-Forwarded-Proto") == "" {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)

	removeHopHeaders(proxyReq.Header)
	tracing.InjectHeaders(r.WithContext(ctx), proxyReq)

	return proxyReq
}

func (p *Proxy) handleError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	logging.Warn("Upstream request failed",
		zap.String("path", r.URL.Path),
		zap.String("upstream", p.target.Host),
		zap.Error(err),
	)
	if stderrors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		errors.ErrGatewayTimeout.WriteJSON(w)
		return
	}
	errors.ErrBadGateway.WriteJSON(w)
}

// copyHeaders copies source headers to destination. Set-Cookie values are
// appended so a cookie an earlier stage set survives, Vary tokens are
// merged, and every other header takes the upstream value.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		switch k {
		case "Set-Cookie":
			dst[k] = append(dst[k], vv...)
		case "Vary":
			dst[k] = mergeVary(dst[k], vv)
		default:
			dst[k] = append([]string(nil), vv...)
		}
	}
	removeHopHeaders(dst)
}

// mergeVary joins two Vary header lists into one value without
// repeating a token.
func mergeVary(existing, upstream []string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, list := range [][]string{existing, upstream} {
		for _, v := range list {
			for _, tok := range strings.Split(v, ",") {
				tok = strings.TrimSpace(tok)
				if tok == "" {
					continue
				}
				key := http.CanonicalHeaderKey(tok)
				if seen[key] {
					continue
				}
				seen[key] = true
				tokens = append(tokens, tok)
			}
		}
	}
	if len(tokens) == 0 {
		return nil
	}
	return []string{strings.Join(tokens, ", ")}
}

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// singleJoiningSlash joins two URL paths with a single slash
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
