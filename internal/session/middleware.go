package session

import (
	"net/http"
	"strings"

	"github.com/movpey/movpey/internal/config"
	"github.com/movpey/movpey/internal/logging"
	"github.com/movpey/movpey/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Continuation results recorded in metrics.
const (
	ResultNoSession    = "no_session"
	ResultValid        = "valid"
	ResultUserError    = "user_error"
	ResultRefreshed    = "refreshed"
	ResultRefreshError = "refresh_error"
)

// Metrics counts continuation outcomes.
type Metrics struct {
	Results *prometheus.CounterVec
}

// NewMetrics creates the session collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Results: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "movpey",
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Session continuation outcomes.",
		}, []string{"result"}),
	}
}

func (m *Metrics) inc(result string) {
	if m != nil {
		m.Results.WithLabelValues(result).Inc()
	}
}

// Continuer runs session continuation for each request.
type Continuer struct {
	client  *Client
	metrics *Metrics
}

// NewContinuer creates a Continuer around client.
func NewContinuer(client *Client, metrics *Metrics) *Continuer {
	return &Continuer{client: client, metrics: metrics}
}

// Continue refreshes the caller's session if one is present. Failures are
// logged at debug level and otherwise ignored. It returns the outcome.
func (c *Continuer) Continue(w http.ResponseWriter, r *http.Request) string {
	s, ok := c.client.ReadSession(r)
	if !ok {
		c.metrics.inc(ResultNoSession)
		return ResultNoSession
	}

	if !c.client.Expired(s) {
		if _, err := c.client.GetUser(r.Context(), s.AccessToken); err != nil {
			logging.Debug("Session user check failed", zap.Error(err))
			c.metrics.inc(ResultUserError)
			return ResultUserError
		}
		c.metrics.inc(ResultValid)
		return ResultValid
	}

	ns, err := c.client.Refresh(r.Context(), s.RefreshToken)
	if err != nil {
		logging.Debug("Session refresh failed", zap.Error(err))
		c.metrics.inc(ResultRefreshError)
		return ResultRefreshError
	}
	if ns.User == nil {
		ns.User = s.User
	}

	value, err := EncodeCookie(ns)
	if err != nil {
		logging.Debug("Session cookie encode failed", zap.Error(err))
		c.metrics.inc(ResultRefreshError)
		return ResultRefreshError
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.client.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		SameSite: http.SameSiteLaxMode,
		Secure:   isSecure(r),
	})
	replaceRequestCookie(r, c.client.cookieName, value)

	c.metrics.inc(ResultRefreshed)
	return ResultRefreshed
}

// Middleware runs Continue before next.
func (c *Continuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Continue(w, r)
		next.ServeHTTP(w, r)
	})
}

// NewMiddleware builds session continuation from configuration. When the
// provider is not configured the returned middleware passes requests
// through untouched.
func NewMiddleware(cfg config.SessionConfig, httpClient *http.Client, metrics *Metrics) middleware.Middleware {
	client, err := NewClient(cfg, httpClient)
	if err != nil {
		logging.Info("Session continuation disabled", zap.Error(err))
		return func(next http.Handler) http.Handler { return next }
	}
	return NewContinuer(client, metrics).Middleware
}

// replaceRequestCookie makes the refreshed session visible to downstream handlers.
func replaceRequestCookie(r *http.Request, name, value string) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	replaced := false
	for _, ck := range cookies {
		if ck.Name == name {
			ck.Value = value
			replaced = true
		}
		r.AddCookie(ck)
	}
	if !replaced {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
