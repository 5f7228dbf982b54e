package geo

import (
	"net/http"
	"strings"
	"time"

	"github.com/movpey/movpey/internal/logging"
	"github.com/movpey/movpey/internal/middleware/realip"
	"go.uber.org/zap"
)

type namedProvider struct {
	source   Source
	provider Provider
}

// IPResolver resolves the country from the client IP. Local addresses
// resolve to the development default in development and to nothing in
// production. Public addresses go through the providers in order.
type IPResolver struct {
	extractor   *realip.Extractor
	providers   []namedProvider
	development bool
	devDefault  string
	metrics     *Metrics
}

// NewIPResolver creates an IPResolver. devDefault is only used when development is set.
func NewIPResolver(extractor *realip.Extractor, development bool, devDefault string, metrics *Metrics) *IPResolver {
	return &IPResolver{
		extractor:   extractor,
		development: development,
		devDefault:  strings.ToUpper(devDefault),
		metrics:     metrics,
	}
}

// AddProvider appends a provider; decisions it produces carry source.
func (ipr *IPResolver) AddProvider(source Source, p Provider) *IPResolver {
	ipr.providers = append(ipr.providers, namedProvider{source: source, provider: p})
	return ipr
}

// Resolve implements Resolver. The extracted IP is reported even when no
// country could be resolved.
func (ipr *IPResolver) Resolve(r *http.Request) (CountryDecision, bool) {
	ip := ipr.extractor.Extract(r)

	if realip.IsLocal(ip) {
		if ipr.development && ipr.devDefault != "" {
			return CountryDecision{Code: ipr.devDefault, Source: SourceDevDefault, IP: ip}, true
		}
		return CountryDecision{Source: SourceUnknown, IP: ip}, false
	}

	for _, np := range ipr.providers {
		start := time.Now()
		res, err := np.provider.Lookup(r.Context(), ip)
		ipr.metrics.observeLookup(np.source, start, err)
		if err != nil {
			logging.Warn("Geo lookup failed",
				zap.String("source", string(np.source)),
				zap.String("ip", ip),
				zap.Error(err),
			)
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(res.Country))
		if code == "" {
			continue
		}
		return CountryDecision{Code: code, Source: np.source, IP: ip}, true
	}
	return CountryDecision{Source: SourceUnknown, IP: ip}, false
}

// Close releases all providers.
func (ipr *IPResolver) Close() error {
	var first error
	for _, np := range ipr.providers {
		if err := np.provider.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
