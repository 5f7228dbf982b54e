package realip

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// contextKey is the type for the real IP context key.
type contextKey struct{}

// privatePrefixes are the address prefixes treated as local callers.
var privatePrefixes = []string{"127.", "192.168.", "10."}

// Extractor determines the client IP from forwarding headers.
type Extractor struct {
	trustedNets   []*net.IPNet
	useRemoteAddr bool
}

// New creates an Extractor from a list of trusted proxy CIDRs. When
// useRemoteAddr is set, the socket peer address is used if no forwarding
// header is present.
func New(cidrs []string, useRemoteAddr bool) (*Extractor, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		// Handle bare IPs by adding /32 or /128
		if !strings.Contains(cidr, "/") {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, &net.ParseError{Type: "IP address", Text: cidr}
			}
			if ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		nets = append(nets, ipNet)
	}

	return &Extractor{
		trustedNets:   nets,
		useRemoteAddr: useRemoteAddr,
	}, nil
}

// Extract returns the client IP, or "" when the request carries none.
//
// Without trusted proxies it takes the first X-Forwarded-For entry, then
// X-Real-IP. With trusted proxies it walks X-Forwarded-For right to left
// and returns the first untrusted hop.
func (e *Extractor) Extract(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		var ip string
		if len(e.trustedNets) == 0 {
			ip = firstXFF(xff)
		} else {
			ip = e.walkXFF(xff)
		}
		if ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if e.useRemoteAddr {
		return extractHost(r.RemoteAddr)
	}
	return ""
}

func firstXFF(xff string) string {
	if i := strings.IndexByte(xff, ','); i >= 0 {
		return strings.TrimSpace(xff[:i])
	}
	return strings.TrimSpace(xff)
}

// walkXFF walks the X-Forwarded-For chain from right to left,
// returning the first IP that is NOT in the trusted proxy list.
func (e *Extractor) walkXFF(xff string) string {
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(parts[i])
		if ip == "" {
			continue
		}
		if !e.isTrusted(ip) {
			return ip
		}
	}
	// All IPs in XFF were trusted; return the leftmost
	return strings.TrimSpace(parts[0])
}

// isTrusted checks if an IP string matches any trusted CIDR.
func (e *Extractor) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range e.trustedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// IsLocal reports whether ip is absent, loopback or in a private range
// that no geolocation service can place.
func IsLocal(ip string) bool {
	if ip == "" || ip == "::1" || strings.EqualFold(ip, "localhost") {
		return true
	}
	for _, p := range privatePrefixes {
		if strings.HasPrefix(ip, p) {
			return true
		}
	}
	return false
}

// Middleware stores the extracted client IP in the request context.
func (e *Extractor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), contextKey{}, e.Extract(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext retrieves the client IP stored by Middleware.
// Returns empty string if not set.
func FromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(contextKey{}).(string); ok {
		return ip
	}
	return ""
}

// extractHost extracts the host part from an address (strips port).
func extractHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
