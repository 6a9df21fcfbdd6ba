// Package metrics exposes Prometheus instrumentation for the lock engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lockd"

// Metrics holds the engine's collectors.
type Metrics struct {
	// Labels: lock, state
	VisualTransitions *prometheus.CounterVec
	// Labels: lock, outcome (allowed, or the block reason)
	Interactions *prometheus.CounterVec
	// Labels: lock
	Rollbacks *prometheus.CounterVec
	// Labels: kind, status (success, error)
	Actions *prometheus.CounterVec
	// Labels: lock
	BatteryLevel *prometheus.GaugeVec

	BackendConnected prometheus.Gauge

	reg *prometheus.Registry
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration on the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		VisualTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visual_transitions_total",
				Help:      "Visual state changes emitted to renderers",
			},
			[]string{"lock", "state"},
		),
		Interactions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interactions_total",
				Help:      "Tap and hold gestures by outcome",
			},
			[]string{"lock", "outcome"},
		),
		Rollbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Optimistic requests rolled back after the confirmation timeout",
			},
			[]string{"lock"},
		),
		Actions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Executed actions by kind and status",
			},
			[]string{"kind", "status"},
		),
		BatteryLevel: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "battery_level_percent",
				Help:      "Last known battery level of each lock",
			},
			[]string{"lock"},
		),
		BackendConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_connected",
			Help:      "1 while the Home Assistant connection is up",
		}),
		reg: reg,
	}
}

// TrackRenderClients exports the value of count as the render client gauge.
func (m *Metrics) TrackRenderClients(count func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "render_clients",
		Help:      "Connected websocket render clients",
	}, func() float64 {
		return float64(count())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveAction counts one executed action.
func (m *Metrics) ObserveAction(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Actions.WithLabelValues(kind, status).Inc()
}

// SetConnected records backend connectivity.
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.BackendConnected.Set(1)
		return
	}
	m.BackendConnected.Set(0)
}
