package geo

import (
	"net/http"
	"strings"
)

// Resolver is one country resolution strategy. It reports false when it
// has no answer for the request.
type Resolver interface {
	Resolve(r *http.Request) (CountryDecision, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(r *http.Request) (CountryDecision, bool)

// Resolve calls f(r).
func (f ResolverFunc) Resolve(r *http.Request) (CountryDecision, bool) {
	return f(r)
}

// FirstOf tries resolvers in order and returns the first answer.
// Later resolvers are not invoked once one succeeds. When none answers,
// the client IP reported by a failed resolver is kept.
func FirstOf(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(r *http.Request) (CountryDecision, bool) {
		var ip string
		for _, res := range resolvers {
			if res == nil {
				continue
			}
			d, ok := res.Resolve(r)
			if ok {
				return d, true
			}
			if d.IP != "" {
				ip = d.IP
			}
		}
		return CountryDecision{Source: SourceUnknown, IP: ip}, false
	})
}

// placeholderCodes are sent by CDNs when the country is unknown or Tor.
var placeholderCodes = map[string]bool{"XX": true, "T1": true}

// HeaderResolver reads an upper-cased country code from a request header.
func HeaderResolver(header string) Resolver {
	return ResolverFunc(func(r *http.Request) (CountryDecision, bool) {
		if header == "" {
			return CountryDecision{}, false
		}
		code := strings.ToUpper(strings.TrimSpace(r.Header.Get(header)))
		if code == "" || placeholderCodes[code] {
			return CountryDecision{}, false
		}
		return CountryDecision{Code: code, Source: SourceHeader}, true
	})
}
