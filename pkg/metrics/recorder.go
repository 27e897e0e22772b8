package metrics

import (
	"github.com/vigil-ops/vigil/internal/alerting"
	"github.com/vigil-ops/vigil/internal/events"
	"github.com/vigil-ops/vigil/internal/incident"
)

// Recorder subscribes to the event bus and keeps the Prometheus collectors
// current. It consumes a wildcard subscription so new event kinds flow
// through without new wiring.
type Recorder struct {
	metrics *Metrics
	done    chan struct{}
	// closedIncidents guards the active gauge against double decrement when
	// an incident moves RESOLVED then CLOSED.
	closedIncidents map[string]struct{}
}

// NewRecorder starts recording bus events into m. Stop it by closing the bus
// or cancelling via Close.
func NewRecorder(m *Metrics, bus *events.Bus) *Recorder {
	r := &Recorder{metrics: m, done: make(chan struct{}), closedIncidents: make(map[string]struct{})}
	ch := bus.Subscribe()
	go r.consume(ch)
	return r
}

func (r *Recorder) consume(ch <-chan events.Event) {
	defer close(r.done)
	for ev := range ch {
		r.record(ev)
	}
}

// Done is closed once the bus subscription drains.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) record(ev events.Event) {
	switch ev.Kind {
	case events.KindBreakerStateChange:
		fields, ok := ev.Payload.(map[string]interface{})
		if !ok {
			return
		}
		name, _ := fields["name"].(string)
		from, _ := fields["from"].(string)
		to, _ := fields["to"].(string)
		r.metrics.BreakerTransitions.WithLabelValues(name, from, to).Inc()
		r.metrics.BreakerState.WithLabelValues(name).Set(gaugeForState(to))

	case events.KindBreakerRejected:
		fields, ok := ev.Payload.(map[string]interface{})
		if !ok {
			return
		}
		name, _ := fields["name"].(string)
		r.metrics.BreakerRejections.WithLabelValues(name).Inc()

	case events.KindAlert:
		alert, ok := ev.Payload.(alerting.Alert)
		if !ok {
			return
		}
		r.metrics.AlertsFired.WithLabelValues(string(alert.Severity)).Inc()

	case events.KindAlertResolved:
		r.metrics.AlertsResolved.Inc()

	case events.KindIncidentCreated:
		inc, ok := ev.Payload.(incident.Incident)
		if !ok {
			return
		}
		r.metrics.IncidentsOpened.WithLabelValues(inc.Severity).Inc()
		r.metrics.ActiveIncidents.Inc()

	case events.KindIncidentEscalated:
		r.metrics.IncidentsEscalated.Inc()

	case events.KindIncidentStatusUpdated:
		inc, ok := ev.Payload.(incident.Incident)
		if !ok {
			return
		}
		if !inc.Status.Terminal() {
			return
		}
		if _, seen := r.closedIncidents[inc.ID]; seen {
			return
		}
		r.closedIncidents[inc.ID] = struct{}{}
		r.metrics.ActiveIncidents.Dec()
	}
}
