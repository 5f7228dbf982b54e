package geo

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/movpey/movpey/internal/config"
	"github.com/movpey/movpey/internal/logging"
	"github.com/movpey/movpey/internal/middleware/realip"
	"go.uber.org/zap"
)

// Gate restricts access by the caller's apparent country. It holds no
// per-request state; every request is resolved from scratch.
type Gate struct {
	enabled        bool
	development    bool
	denyUnknown    bool
	allowCountries map[string]bool // uppercase ISO codes
	blockedPath    string
	bypassPrefixes []string
	injectHeaders  bool
	resolver       Resolver
	metrics        *Metrics
}

// New creates a Gate from explicit configuration and a resolver chain.
func New(cfg config.GeoConfig, mode config.Mode, resolver Resolver, metrics *Metrics) *Gate {
	blocked := cfg.BlockedPath
	if blocked == "" {
		blocked = "/blocked"
	}

	g := &Gate{
		enabled:        cfg.Enabled,
		development:    mode == config.ModeDevelopment,
		denyUnknown:    cfg.DenyUnknown,
		allowCountries: make(map[string]bool, len(cfg.AllowCountries)),
		blockedPath:    blocked,
		injectHeaders:  cfg.InjectHeaders,
		resolver:       resolver,
		metrics:        metrics,
	}
	for _, c := range cfg.AllowCountries {
		g.allowCountries[strings.ToUpper(strings.TrimSpace(c))] = true
	}

	// The blocked page itself must never be gated.
	g.bypassPrefixes = append(g.bypassPrefixes, blocked)
	g.bypassPrefixes = append(g.bypassPrefixes, cfg.BypassPrefixes...)
	return g
}

// Build wires the default resolver chain (platform header, CDN header,
// client IP) from configuration and returns the gate with the IP resolver
// so the caller can close its providers.
func Build(cfg *config.Config, client *http.Client, metrics *Metrics) (*Gate, *IPResolver, error) {
	gc := cfg.Geo

	extractor, err := realip.New(gc.TrustedProxies, gc.UseRemoteAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("geo trusted_proxies: %w", err)
	}

	ipr := NewIPResolver(extractor, cfg.IsDevelopment(), gc.DevDefaultCountry, metrics)
	if gc.Database != "" {
		db, err := NewDatabaseProvider(gc.Database)
		if err != nil {
			return nil, nil, err
		}
		ipr.AddProvider(SourceDatabase, db)
	}
	if gc.LookupURL != "" {
		ipr.AddProvider(SourceLookup, NewHTTPLookup(gc.LookupURL, gc.LookupTimeout, client))
	}

	resolver := FirstOf(
		HeaderResolver(gc.PlatformHeader),
		HeaderResolver(gc.CDNHeader),
		ipr,
	)
	return New(gc, cfg.Mode, resolver, metrics), ipr, nil
}

// Enabled reports whether country checks are active.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// BlockedPath returns the redirect target for denied requests.
func (g *Gate) BlockedPath() string {
	return g.blockedPath
}

// Bypassed reports whether path is exempt from country checks.
func (g *Gate) Bypassed(path string) bool {
	for _, p := range g.bypassPrefixes {
		if p == "" {
			continue
		}
		if strings.HasPrefix(path, p) || path == strings.TrimSuffix(p, "/") {
			return true
		}
	}
	return false
}

// Evaluate decides the verdict for r without writing a response.
func (g *Gate) Evaluate(r *http.Request) Result {
	if g.Bypassed(r.URL.Path) {
		return Result{Verdict: VerdictBypass, Decision: CountryDecision{Source: SourceUnknown}, Reason: ReasonBypassPath}
	}
	if !g.enabled {
		return Result{Verdict: VerdictBypass, Decision: CountryDecision{Source: SourceUnknown}, Reason: ReasonDisabled}
	}
	return g.Decide(r)
}

// Decide resolves the country and applies the allow-list, ignoring
// bypass prefixes and the enabled flag.
func (g *Gate) Decide(r *http.Request) Result {
	d, ok := g.resolver.Resolve(r)
	if !ok || !d.Resolved() {
		d = CountryDecision{Source: SourceUnknown, IP: d.IP}
		if g.development || !g.denyUnknown {
			return Result{Verdict: VerdictAllow, Decision: d, Reason: ReasonUnknownAllow}
		}
		return Result{Verdict: VerdictDeny, Decision: d, Reason: ReasonUnresolved}
	}

	if d.Source == SourceDevDefault {
		return Result{Verdict: VerdictAllow, Decision: d, Reason: ReasonDevDefault}
	}
	if g.allowCountries[strings.ToUpper(d.Code)] {
		return Result{Verdict: VerdictAllow, Decision: d, Reason: ReasonAllowList}
	}
	return Result{Verdict: VerdictDeny, Decision: d, Reason: ReasonNotAllowed}
}

// Middleware redirects denied requests to the blocked page and passes
// everything else to next with the Result in the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := g.Evaluate(r)
		g.metrics.observeResult(res)
		r = r.WithContext(WithResult(r.Context(), res))

		if res.Verdict == VerdictDeny {
			logging.Info("Geo gate denied request",
				zap.String("path", r.URL.Path),
				zap.String("ip", res.Decision.IP),
				zap.String("country", res.Decision.Code),
				zap.String("source", string(res.Decision.Source)),
				zap.String("reason", res.Reason),
			)
			http.Redirect(w, r, g.blockedPath, http.StatusTemporaryRedirect)
			return
		}

		if g.injectHeaders {
			r.Header.Del("X-Geo-Country")
			if res.Decision.Code != "" {
				r.Header.Set("X-Geo-Country", res.Decision.Code)
			}
		}
		next.ServeHTTP(w, r)
	})
}
