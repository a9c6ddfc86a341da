package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client's Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can take it as an optional dependency.
type Metrics struct {
	LoginAttempts  *prometheus.CounterVec
	Logouts        prometheus.Counter
	Restores       *prometheus.CounterVec
	CaptureCycles  *prometheus.CounterVec
	SubmitDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gabizap_login_attempts_total",
			Help: "Login attempts by outcome (success or error category)",
		}, []string{"outcome"}),
		Logouts: f.NewCounter(prometheus.CounterOpts{
			Name: "gabizap_logouts_total",
			Help: "Explicit logouts, including no-op logouts",
		}),
		Restores: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gabizap_session_restores_total",
			Help: "Session restores by outcome",
		}, []string{"outcome"}),
		CaptureCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gabizap_capture_cycles_total",
			Help: "Completed capture cycles by capture type and outcome",
		}, []string{"kind", "outcome"}),
		SubmitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gabizap_capture_submit_duration_seconds",
			Help:    "Latency of capture submissions to the ingest endpoint",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLogout() {
	if m == nil {
		return
	}
	m.Logouts.Inc()
}

func (m *Metrics) ObserveRestore(outcome string) {
	if m == nil {
		return
	}
	m.Restores.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCapture(kind, outcome string) {
	if m == nil {
		return
	}
	m.CaptureCycles.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveSubmit(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.SubmitDuration.WithLabelValues(kind).Observe(d.Seconds())
}
