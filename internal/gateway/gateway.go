// Package gateway assembles the edge request pipeline and runs it behind
// an HTTP server.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/movpey/movpey/internal/config"
	"github.com/movpey/movpey/internal/logging"
	"github.com/movpey/movpey/internal/metrics"
	"github.com/movpey/movpey/internal/middleware"
	"github.com/movpey/movpey/internal/middleware/assets"
	"github.com/movpey/movpey/internal/middleware/cdnheaders"
	"github.com/movpey/movpey/internal/middleware/compression"
	"github.com/movpey/movpey/internal/middleware/geo"
	"github.com/movpey/movpey/internal/middleware/realip"
	"github.com/movpey/movpey/internal/middleware/securityheaders"
	"github.com/movpey/movpey/internal/proxy"
	"github.com/movpey/movpey/internal/router"
	"github.com/movpey/movpey/internal/session"
	"github.com/movpey/movpey/internal/tracing"
	"go.uber.org/zap"
)

// Gateway is the edge service: gate, session continuation and routing.
type Gateway struct {
	config     *config.Config
	tracer     *tracing.Tracer
	metrics    *metrics.Collector
	gate       *geo.Gate
	ipResolver *geo.IPResolver
	assets     *assets.Matcher
	router     *router.Router
	handler    http.Handler
}

// New builds the gateway from cfg. version is reported by /api/health.
func New(cfg *config.Config, version string) (*Gateway, error) {
	g := &Gateway{
		config:  cfg,
		metrics: metrics.NewCollector(),
	}

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	g.tracer = tracer

	g.assets, err = assets.New(cfg.Geo.StaticPatterns)
	if err != nil {
		return nil, err
	}

	extractor, err := realip.New(cfg.Geo.TrustedProxies, cfg.Geo.UseRemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("trusted_proxies: %w", err)
	}

	client := proxy.NewClient(0)
	reg := g.metrics.Registerer()

	g.gate, g.ipResolver, err = geo.Build(cfg, client, geo.NewMetrics(reg))
	if err != nil {
		return nil, err
	}
	sessionMW := session.NewMiddleware(cfg.Session, client, session.NewMetrics(reg))
	compressor := compression.New(cfg.Compression, compression.NewMetrics(reg))

	var upstream http.Handler
	if cfg.Upstream.URL != "" {
		p, err := proxy.New(cfg.Upstream.URL, nil, cfg.Upstream.Timeout)
		if err != nil {
			return nil, fmt.Errorf("upstream: %w", err)
		}
		upstream = p
	}

	g.router = router.New(router.Options{
		Gate:     g.gate,
		Upstream: upstream,
		Version:  version,
		Contact:  cfg.Geo.SupportContact,
	})

	var skip []string
	if cfg.Metrics.Enabled {
		skip = append(skip, cfg.Metrics.Path)
	}

	g.handler = middleware.NewBuilder().
		Use(middleware.Recovery()).
		Use(middleware.RequestID()).
		UseIf(cfg.SecurityHeaders.Enabled, securityheaders.New(cfg.SecurityHeaders).Middleware).
		Use(g.tracer.Middleware()).
		Use(extractor.Middleware).
		UseIf(cfg.Logging.Access, middleware.LoggingWithConfig(middleware.LoggingConfig{SkipPaths: skip})).
		UseIf(cfg.Metrics.Enabled, g.metrics.Middleware(g.classify)).
		Use(g.metricsEndpoint).
		Use(compressor.Middleware).
		UseIf(cfg.StaticCache.Enabled, g.assets.Only(cdnheaders.New(cfg.StaticCache).Middleware)).
		Use(g.assets.Unless(g.tracer.SpanMiddleware("geo.gate", g.gate.Middleware))).
		Use(g.assets.Unless(g.tracer.SpanMiddleware("session.continue", sessionMW))).
		Handler(g.router)

	logging.Info("Edge pipeline ready",
		zap.String("mode", string(cfg.Mode)),
		zap.Bool("geo_enabled", cfg.Geo.Enabled),
		zap.Strings("allow_countries", cfg.Geo.AllowCountries),
		zap.Bool("upstream", upstream != nil),
		zap.Bool("tracing", g.tracer.IsEnabled()),
		zap.Bool("compression", cfg.Compression.Enabled),
	)
	return g, nil
}

// metricsEndpoint serves the scrape endpoint ahead of the gate so that
// scrapers on private networks are never redirected.
func (g *Gateway) metricsEndpoint(next http.Handler) http.Handler {
	if !g.config.Metrics.Enabled || g.config.Metrics.Path == "" {
		return next
	}
	h := g.metrics.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == g.config.Metrics.Path && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
			h.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// classify maps a request to a low-cardinality route label.
func (g *Gateway) classify(r *http.Request) string {
	p := r.URL.Path
	switch {
	case g.assets.Match(p):
		return metrics.RouteStatic
	case p == g.gate.BlockedPath():
		return metrics.RouteBlocked
	case strings.HasPrefix(p, "/auth/callback"):
		return metrics.RouteCallback
	case strings.HasPrefix(p, "/api/"):
		return metrics.RouteAPI
	default:
		return metrics.RoutePage
	}
}

// Handler returns the full request pipeline.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Gate returns the access gate.
func (g *Gateway) Gate() *geo.Gate {
	return g.gate
}

// Metrics returns the metrics collector.
func (g *Gateway) Metrics() *metrics.Collector {
	return g.metrics
}

// Close releases geo databases and flushes traces.
func (g *Gateway) Close(ctx context.Context) error {
	var firstErr error
	if g.ipResolver != nil {
		if err := g.ipResolver.Close(); err != nil {
			firstErr = err
		}
	}
	if err := g.tracer.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
