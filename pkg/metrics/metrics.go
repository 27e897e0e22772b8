package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector exported by the service.
type Metrics struct {
	registry *prometheus.Registry

	BreakerTransitions *prometheus.CounterVec
	BreakerRejections  *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec

	AlertsFired    *prometheus.CounterVec
	AlertsResolved prometheus.Counter

	IncidentsOpened    *prometheus.CounterVec
	IncidentsEscalated prometheus.Counter
	ActiveIncidents    prometheus.Gauge

	ScalingActions  *prometheus.CounterVec
	CurrentReplicas prometheus.Gauge

	HealthStatus prometheus.Gauge
	HealthChecks *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	m := &Metrics{
		registry: registry,
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		}, []string{"breaker", "from", "to"}),
		BreakerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_breaker_rejections_total",
			Help: "Requests rejected by an open circuit breaker",
		}, []string{"breaker"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigil_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"breaker"}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_alerts_fired_total",
			Help: "Alerts fired by rule evaluation",
		}, []string{"severity"}),
		AlertsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_alerts_resolved_total",
			Help: "Alerts resolved",
		}),
		IncidentsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_incidents_opened_total",
			Help: "Incidents opened",
		}, []string{"severity"}),
		IncidentsEscalated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_incidents_escalated_total",
			Help: "Incident escalations",
		}),
		ActiveIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_incidents_active",
			Help: "Incidents not yet resolved or closed",
		}),
		ScalingActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_scaling_actions_total",
			Help: "Applied scaling actions",
		}, []string{"action"}),
		CurrentReplicas: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_replicas",
			Help: "Current replica count of the managed service",
		}),
		HealthStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_healthy",
			Help: "Overall health status (1=healthy, 0=unhealthy)",
		}),
		HealthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_health_checks_total",
			Help: "Health check evaluations by outcome",
		}, []string{"status"}),
	}

	registry.MustRegister(
		m.BreakerTransitions,
		m.BreakerRejections,
		m.BreakerState,
		m.AlertsFired,
		m.AlertsResolved,
		m.IncidentsOpened,
		m.IncidentsEscalated,
		m.ActiveIncidents,
		m.ScalingActions,
		m.CurrentReplicas,
		m.HealthStatus,
		m.HealthChecks,
	)
	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func gaugeForState(state string) float64 {
	switch state {
	case "OPEN":
		return 2
	case "HALF_OPEN":
		return 1
	default:
		return 0
	}
}
