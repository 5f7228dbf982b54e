package geo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks gate outcomes. It never influences decisions.
type Metrics struct {
	Verdicts       *prometheus.CounterVec
	Resolutions    *prometheus.CounterVec
	LookupDuration *prometheus.HistogramVec
}

// NewMetrics creates the gate collectors and registers them with reg.
// A nil reg yields unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "movpey",
			Subsystem: "geo",
			Name:      "verdicts_total",
			Help:      "Access gate verdicts by outcome and reason.",
		}, []string{"verdict", "reason"}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "movpey",
			Subsystem: "geo",
			Name:      "resolutions_total",
			Help:      "Country resolutions by source.",
		}, []string{"source"}),
		LookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "movpey",
			Subsystem: "geo",
			Name:      "lookup_duration_seconds",
			Help:      "IP geolocation lookup latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 2.5},
		}, []string{"provider", "outcome"}),
	}
}

func (m *Metrics) observeResult(res Result) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(string(res.Verdict), res.Reason).Inc()
	if res.Verdict != VerdictBypass {
		m.Resolutions.WithLabelValues(string(res.Decision.Source)).Inc()
	}
}

func (m *Metrics) observeLookup(provider Source, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LookupDuration.WithLabelValues(string(provider), outcome).Observe(time.Since(start).Seconds())
}
