// Package metrics exposes Prometheus metrics for the session core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the session core's collectors on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	sessions       *prometheus.GaugeVec
	sources        *prometheus.GaugeVec
	passesTotal    *prometheus.CounterVec
	rotationsTotal prometheus.Counter
	controlOps     *prometheus.CounterVec
	controlErrors  *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	sessions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grav_sessions",
		Help: "Live media sessions by kind",
	}, []string{"kind"})
	sources := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grav_sources",
		Help: "Remote stream sources seen in live sessions, by kind",
	}, []string{"kind"})
	passesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grav_iteration_passes_total",
		Help: "Iteration passes run by the driver, by outcome (active or idle)",
	}, []string{"outcome"})
	rotationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grav_rotations_total",
		Help: "Rotation advances requested",
	})
	controlOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grav_control_operations_total",
		Help: "Control operations received, by operation",
	}, []string{"op"})
	controlErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grav_control_errors_total",
		Help: "Control operations that failed, by operation",
	}, []string{"op"})

	registry.MustRegister(sessions, sources, passesTotal, rotationsTotal, controlOps, controlErrors)

	return &Metrics{
		registry:       registry,
		sessions:       sessions,
		sources:        sources,
		passesTotal:    passesTotal,
		rotationsTotal: rotationsTotal,
		controlOps:     controlOps,
		controlErrors:  controlErrors,
	}
}

// ObservePass counts one driver pass.
func (m *Metrics) ObservePass(active bool) {
	if active {
		m.passesTotal.WithLabelValues("active").Inc()
	} else {
		m.passesTotal.WithLabelValues("idle").Inc()
	}
}

// IncRotations counts a rotation advance.
func (m *Metrics) IncRotations() {
	m.rotationsTotal.Inc()
}

// ObserveControl counts a control operation and, if err is non-nil, its failure.
func (m *Metrics) ObserveControl(op string, err error) {
	m.controlOps.WithLabelValues(op).Inc()
	if err != nil {
		m.controlErrors.WithLabelValues(op).Inc()
	}
}

// SetSessions sets the live session gauges.
func (m *Metrics) SetSessions(video, audio int) {
	m.sessions.WithLabelValues("video").Set(float64(video))
	m.sessions.WithLabelValues("audio").Set(float64(audio))
}

// SetSources sets the live source gauges.
func (m *Metrics) SetSources(video, audio int) {
	m.sources.WithLabelValues("video").Set(float64(video))
	m.sources.WithLabelValues("audio").Set(float64(audio))
}

// Registry returns the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics. updateGauges runs before each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
